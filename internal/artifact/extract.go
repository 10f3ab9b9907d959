package artifact

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ZebulonRouseFrantzich/crash/internal/platform"
)

// maxMemberSize bounds a single extracted file.
const maxMemberSize = 1 << 30

// Extract unpacks archivePath into destDir according to format. Raw assets
// are copied to destDir under name.
func Extract(archivePath, destDir string, format platform.ArchiveFormat, name string) error {
	switch format {
	case platform.FormatTarGz:
		return ExtractTarGz(archivePath, destDir)
	case platform.FormatZip:
		return ExtractZip(archivePath, destDir)
	case platform.FormatRaw:
		if err := os.MkdirAll(destDir, 0o755); err != nil {
			return fmt.Errorf("create dest dir: %w", err)
		}
		return copyFile(archivePath, filepath.Join(destDir, name), 0o755)
	default:
		return fmt.Errorf("unsupported archive format %q", format)
	}
}

// ExtractTarGz extracts a .tar.gz archive to a destination directory
func ExtractTarGz(archivePath, destDir string) error {
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archiveFile.Close()

	gzipReader, err := gzip.NewReader(archiveFile)
	if err != nil {
		return fmt.Errorf("create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		target, err := memberPath(destDir, header.Name)
		if err != nil {
			return err
		}
		if target == "" {
			continue // archive root entry such as "./"
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create directory %s: %w", target, err)
			}

		case tar.TypeReg:
			if err := writeMember(target, tarReader, header.FileInfo().Mode().Perm(), header.Size); err != nil {
				return err
			}

		case tar.TypeSymlink:
			if err := checkLinkTarget(destDir, target, header.Linkname); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create parent dir for %s: %w", target, err)
			}
			if err := os.Symlink(header.Linkname, target); err != nil {
				return fmt.Errorf("create symlink %s: %w", target, err)
			}

		default:
			// Skip other types (hard links, devices, fifos)
			continue
		}
	}

	return nil
}

// ExtractZip extracts a .zip archive to a destination directory
func ExtractZip(archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer reader.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}

	for _, f := range reader.File {
		target, err := memberPath(destDir, f.Name)
		if err != nil {
			return err
		}
		if target == "" {
			continue
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create directory %s: %w", target, err)
			}
		case mode.IsRegular():
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("open member %s: %w", f.Name, err)
			}
			perm := mode.Perm()
			if perm == 0 {
				perm = 0o644
			}
			err = writeMember(target, rc, perm, int64(f.UncompressedSize64))
			rc.Close()
			if err != nil {
				return err
			}
		default:
			continue
		}
	}

	return nil
}

// memberPath joins name onto destDir and rejects names that escape it.
// An empty result means the member is destDir itself.
func memberPath(destDir, name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("illegal file path: %s", name)
	}
	root := filepath.Clean(destDir)
	target := filepath.Join(root, name)
	if target == root {
		return "", nil
	}
	if !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal file path: %s", name)
	}
	return target, nil
}

// checkLinkTarget rejects symlinks that resolve outside destDir.
func checkLinkTarget(destDir, linkPath, linkname string) error {
	if filepath.IsAbs(linkname) {
		return fmt.Errorf("illegal symlink target: %s -> %s", linkPath, linkname)
	}
	root := filepath.Clean(destDir)
	resolved := filepath.Join(filepath.Dir(linkPath), linkname)
	if resolved != root && !strings.HasPrefix(resolved, root+string(os.PathSeparator)) {
		return fmt.Errorf("illegal symlink target: %s -> %s", linkPath, linkname)
	}
	return nil
}

func writeMember(target string, r io.Reader, perm os.FileMode, size int64) error {
	if size > maxMemberSize {
		return fmt.Errorf("member %s too large (%d bytes)", target, size)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", target, err)
	}

	outFile, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create file %s: %w", target, err)
	}
	if _, err := io.Copy(outFile, io.LimitReader(r, maxMemberSize)); err != nil {
		outFile.Close()
		return fmt.Errorf("write file %s: %w", target, err)
	}
	return outFile.Close()
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return writeMember(dst, in, perm, 0)
}

// FindExecutable locates the core executable in an extracted tree. Release
// archives name it exeName or with a version suffix after prefix, and may
// nest it in one directory. The shallowest match wins.
func FindExecutable(dir, prefix, exeName string) (string, error) {
	var matches []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		base := d.Name()
		if base == exeName || (strings.HasPrefix(base, prefix) && !isDocFile(base)) {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan %s: %w", dir, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("executable %s not found in archive", exeName)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		di := strings.Count(matches[i], string(os.PathSeparator))
		dj := strings.Count(matches[j], string(os.PathSeparator))
		if di != dj {
			return di < dj
		}
		// Prefer the exact name at equal depth.
		return filepath.Base(matches[i]) == exeName && filepath.Base(matches[j]) != exeName
	})
	return matches[0], nil
}

func isDocFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".txt", ".asc", ".sha256":
		return true
	}
	return false
}

// contentRoot returns the single top-level directory of an extracted
// bundle, or dir itself when the bundle has files at its top level.
func contentRoot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}

// SetExecutable sets executable permissions on a file
func SetExecutable(path string) error {
	if err := os.Chmod(path, 0o755); err != nil {
		return fmt.Errorf("set executable: %w", err)
	}
	return nil
}
