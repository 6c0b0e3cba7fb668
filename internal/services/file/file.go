package file

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/eric2788/screenrec/internal/services/path"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("service", "file")

var ErrIsDirectory = fmt.Errorf("path is a directory")
var ErrIsNotDirectory = fmt.Errorf("path is not a directory")

type Service struct {
	pathSvc *path.Service
}

type Tree struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Path  string `json:"path"`
	Size  int64  `json:"size"`

	Processing bool `json:"processing,omitempty"`
}

func NewService(pathSvc *path.Service) *Service {
	return &Service{pathSvc: pathSvc}
}

// ListTree lists a directory below the recordings directory. Hidden entries, which
// include copies still in progress, are left out.
func (s *Service) ListTree(path string) ([]Tree, error) {
	return s.ListTreeWithFilter(path, func(e fs.DirEntry) bool { return !strings.HasPrefix(e.Name(), ".") })
}

func (s *Service) ListTreeWithFilter(path string, filter func(fs.DirEntry) bool) ([]Tree, error) {
	fullPath, err := s.pathSvc.ValidatePath(path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(fullPath)
	if err != nil {
		return nil, err
	}

	relativePath, err := s.pathSvc.GetRelativePath(fullPath)
	if err != nil {
		return nil, err
	}

	files := make([]Tree, 0, len(entries))
	for _, entry := range entries {
		if filter(entry) {
			entryPath := filepath.Join(relativePath, entry.Name())
			files = append(files, Tree{
				Name:  entry.Name(),
				IsDir: entry.IsDir(),
				Path:  entryPath,
				Size: func() int64 {
					if info, err := entry.Info(); err == nil {
						return info.Size()
					}
					return 0
				}(),
			})
		}
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].IsDir != files[j].IsDir {
			return files[i].IsDir
		}
		return files[i].Name < files[j].Name
	})
	return files, nil
}

func (s *Service) GetFileStream(path string) (*os.File, error) {
	fullPath, err := s.pathSvc.ValidatePath(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrIsDirectory
	}

	return os.Open(fullPath)
}

// DeleteFiles removes the given files. Directories are refused.
func (s *Service) DeleteFiles(paths ...string) error {
	var errs []error
	for _, p := range paths {
		fullPath, err := s.pathSvc.ValidatePath(p)
		if err != nil {
			return err
		}
		info, err := os.Stat(fullPath)
		if err != nil {
			errs = append(errs, err)
			continue
		} else if info.IsDir() {
			errs = append(errs, fmt.Errorf("%s: %w", p, ErrIsDirectory))
			continue
		}
		if err := os.Remove(fullPath); err != nil {
			errs = append(errs, err)
			continue
		}
		logger.Infof("deleted file %s", p)
	}
	return errors.Join(errs...)
}

// DeleteDirectory removes a directory below the recordings directory with all its content.
func (s *Service) DeleteDirectory(dir string) error {
	fullPath, err := s.pathSvc.ValidatePath(dir)
	if err != nil {
		return err
	}
	if root, _ := s.pathSvc.ValidatePath("/"); fullPath == root {
		return path.ErrAccessDenied
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		return err
	} else if !info.IsDir() {
		return ErrIsNotDirectory
	}
	logger.Infof("deleting directory %s", dir)
	return os.RemoveAll(fullPath)
}
