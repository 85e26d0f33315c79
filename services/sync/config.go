// Copyright 2025 mcbridge contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sync

import (
	"fmt"

	"github.com/imdario/mergo"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	yaml "gopkg.in/yaml.v2"
)

// Job is one source to destination mirror.
type Job struct {
	Name        string `yaml:"name"`
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
	IgnoreFile  string `yaml:"ignore_file"`
}

type jobsFile struct {
	Defaults Job   `yaml:"defaults"`
	Jobs     []Job `yaml:"jobs"`
}

// LoadJobs reads a YAML job file. Fields left empty on a job are filled
// from the file's defaults block, and `~` is expanded in every path.
func LoadJobs(fs afero.Fs, path string) ([]Job, error) {
	content, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("unable to read job file %q: %w", path, err)
	}

	parsed := jobsFile{}
	if err := yaml.Unmarshal(content, &parsed); err != nil {
		return nil, fmt.Errorf("unable to parse job file %q: %w", path, err)
	}
	if len(parsed.Jobs) == 0 {
		return nil, fmt.Errorf("job file %q defines no jobs", path)
	}

	jobs := make([]Job, 0, len(parsed.Jobs))
	for index, job := range parsed.Jobs {
		if err := mergo.Merge(&job, parsed.Defaults); err != nil {
			return nil, fmt.Errorf("unable to apply defaults to job #%d: %w", index+1, err)
		}
		if job.Name == "" {
			job.Name = fmt.Sprintf("job-%d", index+1)
		}
		job, err = normalizeJob(job)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// NewJob builds a single validated job, expanding `~` in every path.
func NewJob(name, source, destination, ignoreFile string) (Job, error) {
	return normalizeJob(Job{
		Name:        name,
		Source:      source,
		Destination: destination,
		IgnoreFile:  ignoreFile,
	})
}

func normalizeJob(job Job) (Job, error) {
	if job.Source == "" {
		return Job{}, fmt.Errorf("job %q has no source", job.Name)
	}
	if job.Destination == "" {
		return Job{}, fmt.Errorf("job %q has no destination", job.Name)
	}

	var err error
	if job.Source, err = homedir.Expand(job.Source); err != nil {
		return Job{}, fmt.Errorf("job %q: %w", job.Name, err)
	}
	if job.Destination, err = homedir.Expand(job.Destination); err != nil {
		return Job{}, fmt.Errorf("job %q: %w", job.Name, err)
	}
	if job.IgnoreFile != "" {
		if job.IgnoreFile, err = homedir.Expand(job.IgnoreFile); err != nil {
			return Job{}, fmt.Errorf("job %q: %w", job.Name, err)
		}
	}
	return job, nil
}
