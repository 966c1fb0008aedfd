/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package lifecycle

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/suite"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type FileStoreTestSuite struct {
	suite.Suite
	dir   string
	store *FileStore
}

func (s *FileStoreTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.store = NewFileStore(filepath.Join(s.dir, "state", "guardian.json"))
}

func (s *FileStoreTestSuite) TestLoadMissingFile() {
	var d doc
	ok, err := s.store.Load(&d)
	s.NoError(err)
	s.False(ok)
}

func (s *FileStoreTestSuite) TestSaveThenLoad() {
	s.Require().NoError(s.store.Save(doc{Name: "guardian", Count: 3}))
	s.Require().NoError(s.store.Save(doc{Name: "guardian", Count: 4}))

	var d doc
	ok, err := s.store.Load(&d)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(doc{Name: "guardian", Count: 4}, d)

	entries, err := os.ReadDir(filepath.Dir(s.store.Path()))
	s.Require().NoError(err)
	s.Len(entries, 1, "temporary files must not be left behind")
}

func (s *FileStoreTestSuite) TestLoadCorruptFile() {
	s.Require().NoError(os.MkdirAll(filepath.Dir(s.store.Path()), 0o755))
	s.Require().NoError(os.WriteFile(s.store.Path(), []byte("{not json"), 0o644))

	var d doc
	ok, err := s.store.Load(&d)
	s.False(ok)
	s.ErrorIs(err, ErrCorrupt)
}

func (s *FileStoreTestSuite) TestSaveFailsOnUnwritableDir() {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		s.T().Skip("permission bits are not enforced")
	}
	ro := filepath.Join(s.dir, "ro")
	s.Require().NoError(os.Mkdir(ro, 0o500))
	store := NewFileStore(filepath.Join(ro, "state.json"))
	s.Error(store.Save(doc{Name: "x"}))
}

func (s *FileStoreTestSuite) TestLockIsExclusive() {
	if runtime.GOOS == "windows" {
		s.T().Skip("advisory locks are unix only")
	}
	s.Require().NoError(s.store.Lock())
	s.NoError(s.store.Lock(), "re-locking by the owner is a no-op")

	other := NewFileStore(s.store.Path())
	s.ErrorIs(other.Lock(), ErrLocked)

	s.Require().NoError(s.store.Unlock())
	s.Require().NoError(other.Lock())
	s.NoError(other.Unlock())
	s.NoError(other.Unlock())
}

func TestFileStoreTestSuite(t *testing.T) {
	suite.Run(t, new(FileStoreTestSuite))
}
