// Package extract turns a dataset laid out as <split>/<class>/<file> into
// writer records.
package extract

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
)

var ErrUnknownField = errors.New("unknown job field")

// Job is one image found in the dataset tree. Label is the index of Class
// among the sorted class directories of its split.
type Job struct {
	Split    string
	Class    string
	Label    int64
	Filename string
	Path     string // slash separated, relative to the walked root
}

// Field returns the job attribute bound to a metadata column of that name.
func (j Job) Field(name string) (any, error) {
	switch name {
	case "split":
		return j.Split, nil
	case "class":
		return j.Class, nil
	case "label":
		return j.Label, nil
	case "filename":
		return j.Filename, nil
	case "path":
		return j.Path, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
}

// Partition returns the attributes named by fields, in order.
func (j Job) Partition(fields []string) ([]any, error) {
	values := make([]any, len(fields))
	for i, f := range fields {
		v, err := j.Field(f)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// Walk lists every regular file under <split>/<class>/ for the given splits.
// Classes are numbered per split in lexical order, so the same directory
// names always map to the same labels.
func Walk(fsys fs.FS, splits []string) ([]Job, error) {
	var jobs []Job

	for _, split := range splits {
		classes, err := subdirs(fsys, split)
		if err != nil {
			return nil, fmt.Errorf("split %s: %w", split, err)
		}

		for label, class := range classes {
			dir := path.Join(split, class)
			entries, err := fs.ReadDir(fsys, dir)
			if err != nil {
				return nil, fmt.Errorf("read class dir %s: %w", dir, err)
			}

			for _, e := range entries {
				if !e.Type().IsRegular() {
					continue
				}
				jobs = append(jobs, Job{
					Split:    split,
					Class:    class,
					Label:    int64(label),
					Filename: e.Name(),
					Path:     path.Join(dir, e.Name()),
				})
			}
		}
	}

	return jobs, nil
}

func subdirs(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	return names, nil
}

// Shard returns every n-th job starting at i, so n workers together cover
// jobs exactly once.
func Shard(jobs []Job, n, i int) []Job {
	if n <= 1 {
		return jobs
	}

	var shard []Job
	for j := i; j < len(jobs); j += n {
		shard = append(shard, jobs[j])
	}
	return shard
}
