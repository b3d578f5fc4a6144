package util

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

// JSONStringify converts any value to a JSON string.
func JSONStringify(val any) string {
	buf, _ := json.Marshal(val)
	return string(buf)
}

// Exists returns true if the filename or directory specified by fn exists.
func Exists(fn string) bool {
	_, err := os.Stat(fn)
	return err == nil
}

// SliceContains returns true if the slice contains the value.
func SliceContains(slice []string, val string) bool {
	return slices.Contains(slice, val)
}

var windowsDrivePrefix = regexp.MustCompile(`^[a-zA-Z]:[/\\]`)

// ToFileURI converts a directory and file to a file URI in a cross-platform way.
func ToFileURI(dir string, file string) string {
	if !filepath.IsAbs(dir) && !windowsDrivePrefix.MatchString(dir) {
		dir, _ = filepath.Abs(dir)
	}
	dir = filepath.Clean(dir)
	if os.PathSeparator == '\\' {
		dir = filepath.ToSlash(dir)
	}
	return fmt.Sprintf("file://%s", path.Join(dir, file))
}

// IsLocalhost returns true if the URL points at a loopback or wildcard address.
func IsLocalhost(url string) bool {
	return strings.Contains(url, "localhost") || strings.Contains(url, "127.0.0.1") || strings.Contains(url, "0.0.0.0")
}

// GetFreePort asks the kernel for a free open port that is ready to use.
func GetFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// ListDir returns the files under dir, recursing into subdirectories.
func ListDir(dir string) ([]string, error) {
	res := make([]string, 0)
	err := filepath.WalkDir(dir, func(fn string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() == ".DS_Store" {
			return nil
		}
		res = append(res, fn)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
