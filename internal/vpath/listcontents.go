package vpath

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/agentic-research/coursefs/internal/catalog"
	"github.com/agentic-research/coursefs/internal/template"
)

// ListContents dispatches on ContentOptions per spec.md §4.6: it fetches
// whatever is needed from the catalog to produce the next generation of
// children, fanning independent catalog calls out via errgroup so e.g.
// every semester's courses are fetched in parallel.
func (v *VP) ListContents(ctx context.Context) ([]*VP, error) {
	if !v.isFolder {
		return nil, fmt.Errorf("vpath: ListContents called on non-folder %s", v.partialPath)
	}

	switch {
	case v.contentOptions[template.File]:
		return v.listFileOptions(ctx)
	case v.contentOptions[template.Course]:
		return v.listCourseOptions(ctx)
	case v.contentOptions[template.Semester]:
		return v.listSemesterOptions(ctx)
	default:
		child, err := v.subPath(KnownData{}, true)
		if err != nil {
			return nil, err
		}
		return []*VP{child}, nil
	}
}

func (v *VP) listSemesterOptions(ctx context.Context) ([]*VP, error) {
	if v.Known.Semester != nil {
		return v.singleSubPath()
	}
	semesters, err := v.tree.Catalog.GetSemesters(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*VP, len(semesters))
	for i, s := range semesters {
		s := s
		child, err := v.subPath(KnownData{Semester: &s}, true)
		if err != nil {
			return nil, err
		}
		out[i] = child
	}
	return out, nil
}

func (v *VP) listCourseOptions(ctx context.Context) ([]*VP, error) {
	if v.Known.Course != nil {
		return v.singleSubPath()
	}
	if v.Known.Semester != nil {
		courses, err := v.tree.Catalog.GetCourses(ctx, *v.Known.Semester)
		if err != nil {
			return nil, err
		}
		out := make([]*VP, len(courses))
		for i, c := range courses {
			c := c
			child, err := v.subPath(KnownData{Course: &c}, true)
			if err != nil {
				return nil, err
			}
			out[i] = child
		}
		return out, nil
	}

	semesters, err := v.tree.Catalog.GetSemesters(ctx)
	if err != nil {
		return nil, err
	}
	coursesBySemester := make([][]catalog.Course, len(semesters))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range semesters {
		i, s := i, s
		g.Go(func() error {
			cs, err := v.tree.Catalog.GetCourses(gctx, s)
			if err != nil {
				return err
			}
			coursesBySemester[i] = cs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []*VP
	for i, s := range semesters {
		s := s
		for _, c := range coursesBySemester[i] {
			c := c
			child, err := v.subPath(KnownData{Semester: &s, Course: &c}, true)
			if err != nil {
				return nil, err
			}
			out = append(out, child)
		}
	}
	return out, nil
}

func (v *VP) listFileOptions(ctx context.Context) ([]*VP, error) {
	if v.Known.File != nil {
		if v.needsExpandLoop && v.Known.File.IsFolder {
			children, err := v.tree.Catalog.GetFolderFiles(ctx, *v.Known.File)
			if err != nil {
				return nil, err
			}
			out := make([]*VP, len(children))
			for i, f := range children {
				f := f
				child, err := v.subPath(KnownData{File: &f}, false)
				if err != nil {
					return nil, err
				}
				out[i] = child
			}
			return out, nil
		}
		return v.singleSubPath()
	}

	if v.Known.Course != nil {
		root, err := v.tree.Catalog.GetCourseRootFolder(ctx, *v.Known.Course)
		if err != nil {
			return nil, err
		}
		return v.subPathsForData([]KnownData{{File: &root}})
	}

	if v.Known.Semester != nil {
		courses, err := v.tree.Catalog.GetCourses(ctx, *v.Known.Semester)
		if err != nil {
			return nil, err
		}
		roots := make([]catalog.File, len(courses))
		g, gctx := errgroup.WithContext(ctx)
		for i, c := range courses {
			i, c := i, c
			g.Go(func() error {
				root, err := v.tree.Catalog.GetCourseRootFolder(gctx, c)
				if err != nil {
					return err
				}
				roots[i] = root
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		data := make([]KnownData, len(courses))
		for i, c := range courses {
			c, root := c, roots[i]
			data[i] = KnownData{Course: &c, File: &root}
		}
		return v.subPathsForData(data)
	}

	semesters, err := v.tree.Catalog.GetSemesters(ctx)
	if err != nil {
		return nil, err
	}
	type courseInSemester struct {
		semester catalog.Semester
		course   catalog.Course
	}
	var pairs []courseInSemester
	coursesBySemester := make([][]catalog.Course, len(semesters))
	{
		g, gctx := errgroup.WithContext(ctx)
		for i, s := range semesters {
			i, s := i, s
			g.Go(func() error {
				cs, err := v.tree.Catalog.GetCourses(gctx, s)
				if err != nil {
					return err
				}
				coursesBySemester[i] = cs
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	for i, s := range semesters {
		for _, c := range coursesBySemester[i] {
			pairs = append(pairs, courseInSemester{semester: s, course: c})
		}
	}

	roots := make([]catalog.File, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range pairs {
		i, p := i, p
		g.Go(func() error {
			root, err := v.tree.Catalog.GetCourseRootFolder(gctx, p.course)
			if err != nil {
				return err
			}
			roots[i] = root
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	data := make([]KnownData, len(pairs))
	for i, p := range pairs {
		s, c, root := p.semester, p.course, roots[i]
		data[i] = KnownData{Semester: &s, Course: &c, File: &root}
	}
	return v.subPathsForData(data)
}

func (v *VP) singleSubPath() ([]*VP, error) {
	child, err := v.subPath(KnownData{}, true)
	if err != nil {
		return nil, err
	}
	return []*VP{child}, nil
}

// subPathsForData builds one child per element of data, advancing the path
// segment unless this node is mid folder-recursion loop (matching
// `increment_path_segments=not self._loop_over_path` in the original).
func (v *VP) subPathsForData(data []KnownData) ([]*VP, error) {
	advance := !v.needsExpandLoop
	out := make([]*VP, len(data))
	for i, d := range data {
		child, err := v.subPath(d, advance)
		if err != nil {
			return nil, err
		}
		out[i] = child
	}
	return out, nil
}
