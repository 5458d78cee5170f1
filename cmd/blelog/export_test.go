package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/srg/blelog/internal/samplelog"
)

type ExportTestSuite struct {
	CommandTestSuite
	src string
}

func (s *ExportTestSuite) SetupTest() {
	s.CommandTestSuite.SetupTest()
	s.src = filepath.Join(s.T().TempDir(), "Thermo_18-10-2026_10-00-00.csv")
	s.Require().NoError(os.WriteFile(s.src, []byte("2A6E\n21.5\n"), 0o644))
}

func (s *ExportTestSuite) TestExport() {
	dest := s.T().TempDir()

	out, err := s.ExecuteCommand(nil, "export", s.src, "--dest", dest)

	s.Require().NoError(err)
	exported := filepath.Join(dest, filepath.Base(s.src))
	s.Contains(out, "Exported to "+exported)
	data, err := os.ReadFile(exported)
	s.Require().NoError(err)
	s.Equal("2A6E\n21.5\n", string(data))
}

func (s *ExportTestSuite) TestExport_RefusesOverwrite() {
	dest := s.T().TempDir()
	_, err := s.ExecuteCommand(nil, "export", s.src, "--dest", dest)
	s.Require().NoError(err)

	_, err = s.ExecuteCommand(nil, "export", s.src, "--dest", dest)

	s.ErrorIs(err, samplelog.ErrExists)
	s.Contains(FormatUserError(err), "choose another --dest")
}

func (s *ExportTestSuite) TestExport_DestFromConfig() {
	dest := filepath.Join(s.T().TempDir(), "exports")
	cfg := filepath.Join(s.T().TempDir(), "blelog.yaml")
	s.Require().NoError(os.WriteFile(cfg, []byte("export_dir: "+dest+"\n"), 0o600))

	_, err := s.ExecuteCommand(nil, "export", s.src, "--config", cfg)

	s.Require().NoError(err)
	s.FileExists(filepath.Join(dest, filepath.Base(s.src)))
}

func (s *ExportTestSuite) TestExport_MissingSource() {
	_, err := s.ExecuteCommand(nil, "export", filepath.Join(s.T().TempDir(), "missing.csv"), "--dest", s.T().TempDir())

	s.ErrorContains(err, "failed to open")
}

func TestExportTestSuite(t *testing.T) {
	suite.Run(t, new(ExportTestSuite))
}
