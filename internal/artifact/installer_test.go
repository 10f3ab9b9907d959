package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	crasherr "github.com/ZebulonRouseFrantzich/crash/internal/errors"
	"github.com/ZebulonRouseFrantzich/crash/internal/layout"
	"github.com/ZebulonRouseFrantzich/crash/internal/mirror"
	"github.com/ZebulonRouseFrantzich/crash/internal/platform"
	"github.com/ZebulonRouseFrantzich/crash/internal/transaction"
)

const mihomoAsset = "mihomo-linux-amd64-v1.19.15.tar.gz"

type stubDetector struct {
	info *platform.Info
}

func (d stubDetector) Detect(context.Context) (*platform.Info, error) {
	return d.info, nil
}

var linuxAMD64 = &platform.Info{OS: "linux", Arch: "amd64", Libc: platform.LibcGNU, Platform: "debian"}

// assetServer serves release assets under /releases/ and branch files
// under /raw/, counting requests per path.
type assetServer struct {
	*httptest.Server
	mu    sync.Mutex
	files map[string][]byte
	hits  map[string]int
}

func newAssetServer(t *testing.T) *assetServer {
	t.Helper()
	s := &assetServer{files: map[string][]byte{}, hits: map[string]int{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		body, ok := s.files[r.URL.Path]
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("ETag", `"abc123"`)
		_, _ = w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *assetServer) put(path string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = body
}

func (s *assetServer) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *assetServer) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.hits {
		n += c
	}
	return n
}

func (s *assetServer) candidates(res mirror.Resource, _ mirror.Strategy) []string {
	switch r := res.(type) {
	case mirror.Release:
		return []string{s.URL + "/releases/" + r.Name}
	case mirror.File:
		return []string{s.URL + "/raw/" + r.Path}
	}
	return nil
}

func newTestInstaller(t *testing.T, srv *assetServer, info *platform.Info) (*Installer, *layout.Layout) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("installer tests use unix executable bits")
	}
	l := &layout.Layout{Root: t.TempDir(), GOOS: "linux"}
	inst, err := NewInstaller(Config{
		Layout:     l,
		Detector:   stubDetector{info: info},
		Downloader: fastDownloader(0),
		Candidates: srv.candidates,
	})
	require.NoError(t, err)
	return inst, l
}

func coreArchive(t *testing.T) []byte {
	return buildTarGz(t, []tarFile{
		{Name: "mihomo-linux-amd64-v1.19.15", Body: elfPayload, Mode: 0o755},
	})
}

func TestNewInstallerValidatesConfig(t *testing.T) {
	_, err := NewInstaller(Config{Detector: stubDetector{}})
	assert.Error(t, err)

	_, err = NewInstaller(Config{Layout: layout.New(t.TempDir())})
	assert.Error(t, err)
}

func TestInstallCore(t *testing.T) {
	srv := newAssetServer(t)
	srv.put("/releases/"+mihomoAsset, coreArchive(t))
	inst, l := newTestInstaller(t, srv, linuxAMD64)

	sel := Selection{Core: platform.CoreMihomo}
	res, err := inst.Install(context.Background(), KindCore, sel, false)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	require.Len(t, res.Artifacts, 1)

	got := res.Artifacts[0]
	assert.Equal(t, l.CoreBinary(platform.CoreMihomo), got.Path)
	assert.Equal(t, "1.19.15", got.Version)
	assert.Equal(t, "content", got.Verified)
	assert.Equal(t, srv.URL+"/releases/"+mihomoAsset, got.Source)

	data, err := os.ReadFile(got.Path)
	require.NoError(t, err)
	assert.Equal(t, elfPayload, data)

	installed, err := inst.IsInstalled(KindCore, sel)
	require.NoError(t, err)
	assert.True(t, installed)

	entries, err := inst.Installed(KindCore)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "mihomo", entries[0].Name)

	// Staging and journals are cleaned up.
	staging, _ := os.ReadDir(l.StagingDir())
	assert.Empty(t, staging)
	journals, _ := os.ReadDir(l.TxnDir())
	assert.Empty(t, journals)
}

func TestInstallIsIdempotentWithoutForce(t *testing.T) {
	srv := newAssetServer(t)
	srv.put("/releases/"+mihomoAsset, coreArchive(t))
	inst, l := newTestInstaller(t, srv, linuxAMD64)
	ctx := context.Background()
	sel := Selection{Core: platform.CoreMihomo}

	_, err := inst.Install(ctx, KindCore, sel, false)
	require.NoError(t, err)
	before := srv.total()

	res, err := inst.Install(ctx, KindCore, sel, false)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, before, srv.total(), "no network activity when already installed")

	res, err = inst.Install(ctx, KindCore, sel, true)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 2, srv.count("/releases/"+mihomoAsset))
	assert.FileExists(t, l.CoreBinary(platform.CoreMihomo)+".old", "previous generation is kept")
}

func TestInstallUnsupportedPlatformMakesNoRequests(t *testing.T) {
	srv := newAssetServer(t)
	inst, _ := newTestInstaller(t, srv, &platform.Info{OS: "freebsd", Arch: "amd64"})

	_, err := inst.Install(context.Background(), KindCore, Selection{Core: platform.CoreClash}, false)
	require.Error(t, err)
	assert.True(t, crasherr.IsUnsupportedPlatform(err))
	assert.Zero(t, srv.total())
}

func TestInstallAllMirrorsExhausted(t *testing.T) {
	srv := newAssetServer(t)
	inst, l := newTestInstaller(t, srv, linuxAMD64)

	_, err := inst.Install(context.Background(), KindCore, Selection{}, false)
	require.Error(t, err)
	assert.Equal(t, crasherr.KindAllMirrorsExhausted, crasherr.KindOf(err))
	assert.NoFileExists(t, l.CoreBinary(platform.CoreMihomo))
}

func TestInstallRejectsConcurrentInstall(t *testing.T) {
	srv := newAssetServer(t)
	srv.put("/releases/"+mihomoAsset, coreArchive(t))
	inst, l := newTestInstaller(t, srv, linuxAMD64)

	held, err := transaction.TryAcquire(l.LocksDir(), "install-core")
	require.NoError(t, err)
	defer held.Release()

	start := time.Now()
	_, err = inst.Install(context.Background(), KindCore, Selection{}, true)
	require.Error(t, err)
	assert.True(t, crasherr.IsInstallInProgress(err))
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, srv.total())

	// Other kinds are not blocked.
	srv.put("/raw/metacubexd.tar.gz", buildTarGz(t, []tarFile{{Name: "index.html", Body: []byte("<html></html>")}}))
	_, err = inst.Install(context.Background(), KindUI, Selection{}, false)
	assert.NoError(t, err)
}

func TestInstallRollsBackInterruptedSwap(t *testing.T) {
	srv := newAssetServer(t)
	srv.put("/releases/"+mihomoAsset, coreArchive(t))
	inst, l := newTestInstaller(t, srv, linuxAMD64)

	// Simulate a crash after the old binary was moved aside but before the
	// new one was renamed into place.
	target := l.CoreBinary(platform.CoreMihomo)
	require.NoError(t, os.MkdirAll(l.Root, 0o755))
	require.NoError(t, os.WriteFile(target+".old", elfPayload, 0o755))
	txn := transaction.NewInstall("core")
	idx := txn.AddSwap(filepath.Join(l.StagingDir(), txn.ID, "mihomo"), target, target+".old")
	txn.MarkSwap(idx, transaction.StateInProgress, nil)
	require.NoError(t, txn.Save(l.TxnDir()))

	res, err := inst.Install(context.Background(), KindCore, Selection{}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{target}, res.Restored)
	assert.FileExists(t, target)

	pending, err := transaction.Pending(l.TxnDir(), "core")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestInstallUIUnwrapsBundleDirectory(t *testing.T) {
	srv := newAssetServer(t)
	srv.put("/raw/zashboard.tar.gz", buildTarGz(t, []tarFile{
		{Name: "dist/", Dir: true},
		{Name: "dist/index.html", Body: []byte("<html></html>")},
		{Name: "dist/assets/app.js", Body: []byte("console.log(1)")},
	}))
	inst, l := newTestInstaller(t, srv, linuxAMD64)

	res, err := inst.Install(context.Background(), KindUI, Selection{UI: UIZashboard}, false)
	require.NoError(t, err)
	require.Len(t, res.Artifacts, 1)

	assert.FileExists(t, filepath.Join(l.UIBundle("zashboard"), "index.html"))
	assert.FileExists(t, filepath.Join(l.UIBundle("zashboard"), "assets", "app.js"))
	assert.Equal(t, "abc123", res.Artifacts[0].Version)
}

func TestInstallGeo(t *testing.T) {
	srv := newAssetServer(t)
	for _, archive := range platform.CoreMihomo.GeoFiles() {
		name := strings.TrimSuffix(archive, ".tar.gz")
		srv.put("/raw/"+archive, buildTarGz(t, []tarFile{{Name: name, Body: []byte("db:" + name)}}))
	}
	inst, l := newTestInstaller(t, srv, linuxAMD64)
	ctx := context.Background()

	// One database is already present and must not be fetched again.
	require.NoError(t, os.MkdirAll(l.DataDir(), 0o755))
	require.NoError(t, os.WriteFile(l.GeoDatabase("geoip.dat"), []byte("old"), 0o644))

	res, err := inst.Install(ctx, KindGeo, Selection{Core: platform.CoreMihomo}, false)
	require.NoError(t, err)
	assert.Len(t, res.Artifacts, 2)
	assert.Zero(t, srv.count("/raw/geoip.dat.tar.gz"))

	data, err := os.ReadFile(l.GeoDatabase("geosite.dat"))
	require.NoError(t, err)
	assert.Equal(t, "db:geosite.dat", string(data))

	// Forced refresh replaces every database.
	res, err = inst.Install(ctx, KindGeo, Selection{Core: platform.CoreMihomo}, true)
	require.NoError(t, err)
	assert.Len(t, res.Artifacts, 3)
	data, err = os.ReadFile(l.GeoDatabase("geoip.dat"))
	require.NoError(t, err)
	assert.Equal(t, "db:geoip.dat", string(data))
}

// launchDataDir returns the home directory the core is started with.
func launchDataDir(t *testing.T, core platform.Core, l *layout.Layout) string {
	t.Helper()
	args := core.LaunchArgs(platform.Launch{
		ConfigPath: l.ConfigDocument(core),
		DataDir:    l.DataDir(),
	})
	for i := 0; i+1 < len(args); i++ {
		if args[i] == "-d" || args[i] == "-D" {
			return args[i+1]
		}
	}
	t.Fatalf("no data dir in launch args %q", args)
	return ""
}

func TestInstallGeoLandsInCoreDataDir(t *testing.T) {
	for _, core := range []platform.Core{platform.CoreMihomo, platform.CoreClash} {
		t.Run(core.String(), func(t *testing.T) {
			srv := newAssetServer(t)
			for _, archive := range core.GeoFiles() {
				name := strings.TrimSuffix(archive, ".tar.gz")
				srv.put("/raw/"+archive, buildTarGz(t, []tarFile{{Name: name, Body: []byte("db:" + name)}}))
			}
			inst, l := newTestInstaller(t, srv, linuxAMD64)

			res, err := inst.Install(context.Background(), KindGeo, Selection{Core: core}, true)
			require.NoError(t, err)
			require.NotEmpty(t, res.Artifacts)

			dataDir := launchDataDir(t, core, l)
			for _, art := range res.Artifacts {
				assert.Equal(t, filepath.Join(dataDir, art.Name), art.Path)
				data, err := os.ReadFile(filepath.Join(dataDir, art.Name))
				require.NoError(t, err)
				assert.Equal(t, "db:"+art.Name, string(data))
			}

			installed, err := inst.IsInstalled(KindGeo, Selection{Core: core})
			require.NoError(t, err)
			assert.True(t, installed)
		})
	}
}

func TestSwapIntoKeepsFileTargetPresent(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "mihomo")
	require.NoError(t, os.WriteFile(target, []byte("v0"), 0o755))

	var (
		stop    = make(chan struct{})
		wg      sync.WaitGroup
		missing bool
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := os.Stat(target); os.IsNotExist(err) {
				missing = true
			}
		}
	}()

	for i := 1; i <= 200; i++ {
		staged := filepath.Join(dir, "staged")
		require.NoError(t, os.WriteFile(staged, []byte{'v', byte('0' + i%10)}, 0o755))
		require.NoError(t, swapInto(staged, target, target+".old"))
	}
	close(stop)
	wg.Wait()

	assert.False(t, missing, "target was absent during a swap")
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "v0", string(data))
	backup, err := os.ReadFile(target + ".old")
	require.NoError(t, err)
	assert.Equal(t, "v9", string(backup))
	assert.NoFileExists(t, filepath.Join(dir, "staged"))
}

func TestSwapIntoReplacesDirectory(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "zashboard")
	staged := filepath.Join(dir, "staged")
	require.NoError(t, os.MkdirAll(target, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "index.html"), []byte("old"), 0o644))
	require.NoError(t, os.MkdirAll(staged, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staged, "index.html"), []byte("new"), 0o644))

	require.NoError(t, swapInto(staged, target, target+".old"))

	data, err := os.ReadFile(filepath.Join(target, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
	data, err = os.ReadFile(filepath.Join(target+".old", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestInstallGeoForSingboxIsNoop(t *testing.T) {
	srv := newAssetServer(t)
	inst, _ := newTestInstaller(t, srv, linuxAMD64)

	res, err := inst.Install(context.Background(), KindGeo, Selection{Core: platform.CoreSingbox}, true)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, srv.total())
}

func TestInstallChecksChecksumSidecar(t *testing.T) {
	archive := coreArchive(t)
	sum := sha256.Sum256(archive)

	t.Run("matching", func(t *testing.T) {
		srv := newAssetServer(t)
		srv.put("/releases/"+mihomoAsset, archive)
		srv.put("/releases/"+mihomoAsset+".sha256", []byte(hex.EncodeToString(sum[:])+"  "+mihomoAsset+"\n"))
		inst, _ := newTestInstaller(t, srv, linuxAMD64)

		_, err := inst.Install(context.Background(), KindCore, Selection{}, false)
		assert.NoError(t, err)
	})

	t.Run("mismatch", func(t *testing.T) {
		srv := newAssetServer(t)
		srv.put("/releases/"+mihomoAsset, archive)
		srv.put("/releases/"+mihomoAsset+".sha256", []byte(strings.Repeat("0", 64)+"\n"))
		inst, l := newTestInstaller(t, srv, linuxAMD64)

		_, err := inst.Install(context.Background(), KindCore, Selection{}, false)
		require.Error(t, err)
		assert.ErrorContains(t, err, "checksum mismatch")
		assert.NoFileExists(t, l.CoreBinary(platform.CoreMihomo))
	})
}

func TestInstallWithKeyringRequiresSignature(t *testing.T) {
	archive := coreArchive(t)
	operator := newSigner(t, "operator")

	t.Run("signed", func(t *testing.T) {
		srv := newAssetServer(t)
		srv.put("/releases/"+mihomoAsset, archive)
		srv.put("/releases/"+mihomoAsset+".asc", detachSign(t, operator, archive))
		inst, l := newTestInstaller(t, srv, linuxAMD64)
		writeKeyring(t, l.Keyring(), operator)

		res, err := inst.Install(context.Background(), KindCore, Selection{}, false)
		require.NoError(t, err)
		assert.Equal(t, "gpg", res.Artifacts[0].Verified)
	})

	t.Run("unsigned", func(t *testing.T) {
		srv := newAssetServer(t)
		srv.put("/releases/"+mihomoAsset, archive)
		inst, l := newTestInstaller(t, srv, linuxAMD64)
		writeKeyring(t, l.Keyring(), operator)

		_, err := inst.Install(context.Background(), KindCore, Selection{}, false)
		require.Error(t, err)
		assert.Equal(t, crasherr.KindValidation, crasherr.KindOf(err))
		assert.NoFileExists(t, l.CoreBinary(platform.CoreMihomo))
	})

	t.Run("wrong_signer", func(t *testing.T) {
		srv := newAssetServer(t)
		srv.put("/releases/"+mihomoAsset, archive)
		srv.put("/releases/"+mihomoAsset+".asc", detachSign(t, newSigner(t, "stranger"), archive))
		inst, l := newTestInstaller(t, srv, linuxAMD64)
		writeKeyring(t, l.Keyring(), operator)

		_, err := inst.Install(context.Background(), KindCore, Selection{}, false)
		require.Error(t, err)
		assert.ErrorContains(t, err, "signature verification failed")
	})
}

func TestInstallAll(t *testing.T) {
	srv := newAssetServer(t)
	srv.put("/releases/"+mihomoAsset, coreArchive(t))
	srv.put("/raw/metacubexd.tar.gz", buildTarGz(t, []tarFile{{Name: "index.html", Body: []byte("<html></html>")}}))
	for _, archive := range platform.CoreMihomo.GeoFiles() {
		name := strings.TrimSuffix(archive, ".tar.gz")
		srv.put("/raw/"+archive, buildTarGz(t, []tarFile{{Name: name, Body: []byte(name)}}))
	}
	inst, _ := newTestInstaller(t, srv, linuxAMD64)

	results, err := inst.InstallAll(context.Background(), Selection{}, false)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []Kind{KindCore, KindUI, KindGeo}, []Kind{results[0].Kind, results[1].Kind, results[2].Kind})

	all, err := inst.Installed("")
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestVersionOf(t *testing.T) {
	assert.Equal(t, "1.19.15", versionOf("mihomo-linux-amd64-v1.19.15.tar.gz", `"etag"`))
	assert.Equal(t, "1.12.12", versionOf("sing-box-1.12.12-linux-amd64.tar.gz", ""))
	assert.Equal(t, "etag", versionOf("clash-linux-amd64.tar.gz", `W/"etag"`))
	assert.Equal(t, platform.AssetTag, versionOf("clash-linux-amd64.tar.gz", ""))
}
