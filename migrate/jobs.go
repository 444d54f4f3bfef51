package migrate

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/joblog/types"
)

// StaticJobs is a JobFinder over a fixed job list, loaded from a yaml
// export of the CI database for offline migrations.
type StaticJobs struct {
	jobs     map[types.JobID]types.Job
	projects map[int64]bool
}

type jobsFile struct {
	Jobs []struct {
		ID        int64 `yaml:"id"`
		ProjectID int64 `yaml:"project_id"`
		Complete  bool  `yaml:"complete"`
		Archived  bool  `yaml:"archived"`
	} `yaml:"jobs"`
	DeletedProjects []int64 `yaml:"deleted_projects"`
}

// NewStaticJobs creates a finder knowing jobs. Every project referenced by
// a job exists.
func NewStaticJobs(jobs ...types.Job) *StaticJobs {
	s := &StaticJobs{
		jobs:     make(map[types.JobID]types.Job, len(jobs)),
		projects: make(map[int64]bool),
	}
	for _, j := range jobs {
		s.jobs[j.ID] = j
		s.projects[j.ProjectID] = true
	}
	return s
}

// DeleteProject marks a project as gone.
func (s *StaticJobs) DeleteProject(id int64) {
	s.projects[id] = false
}

// LoadJobs reads a yaml job list:
//
//	jobs:
//	  - {id: 42, project_id: 7, complete: true}
//	deleted_projects: [9]
func LoadJobs(path string) (*StaticJobs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs file: %w", err)
	}
	var f jobsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse jobs file: %w", err)
	}

	jobs := make([]types.Job, 0, len(f.Jobs))
	for i, j := range f.Jobs {
		if j.ID <= 0 {
			return nil, fmt.Errorf("jobs[%d]: invalid id %d", i, j.ID)
		}
		job := types.Job{
			JobRef:   types.JobRef{ID: types.JobID(j.ID), ProjectID: j.ProjectID},
			Complete: j.Complete,
		}
		if j.Archived {
			job.TraceArtifact = &types.Artifact{}
		}
		jobs = append(jobs, job)
	}

	s := NewStaticJobs(jobs...)
	for _, p := range f.DeletedProjects {
		s.DeleteProject(p)
	}
	return s, nil
}

// FindJob implements JobFinder.
func (s *StaticJobs) FindJob(_ context.Context, id types.JobID) (*types.Job, bool, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, false, nil
	}
	return &j, true, nil
}

// ProjectExists implements JobFinder.
func (s *StaticJobs) ProjectExists(_ context.Context, id int64) (bool, error) {
	return s.projects[id], nil
}

var _ JobFinder = (*StaticJobs)(nil)
