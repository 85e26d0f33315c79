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
	"os"

	ignore "github.com/codeskyblue/dockerignore"
	"github.com/spf13/afero"
)

// ignoreSet matches tree-relative paths against .dockerignore style
// patterns. Ignored entries are neither copied nor deleted.
type ignoreSet struct {
	patterns []string
}

// loadIgnoreSet reads the patterns from path. An empty path, or a missing
// file, yields a set that matches nothing.
func loadIgnoreSet(fs afero.Fs, path string) (*ignoreSet, error) {
	if path == "" {
		return &ignoreSet{}, nil
	}

	file, err := fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ignoreSet{}, nil
		}
		return nil, fmt.Errorf("unable to open ignore file %q: %w", path, err)
	}
	defer file.Close()

	patterns, err := ignore.ReadIgnore(file)
	if err != nil {
		return nil, fmt.Errorf("unable to read ignore file %q: %w", path, err)
	}
	return &ignoreSet{patterns: patterns}, nil
}

// Matches reports whether the slash-separated tree-relative path is
// ignored.
func (s *ignoreSet) Matches(relPath string) (bool, error) {
	if len(s.patterns) == 0 {
		return false, nil
	}
	matched, err := ignore.Matches(relPath, s.patterns)
	if err != nil {
		return false, fmt.Errorf("bad ignore pattern while matching %q: %w", relPath, err)
	}
	return matched, nil
}
