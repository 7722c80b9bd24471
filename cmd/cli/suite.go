package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// suite is a YAML test suite:
//
//	checker: |
//	  func checker(right_value string, value string) bool {
//	      return right_value == value
//	  }
//	tests:
//	  - data_in: "2 3"
//	    data_out: "5"
type suite struct {
	Checker string      `yaml:"checker"`
	Tests   []suiteCase `yaml:"tests"`
}

type suiteCase struct {
	DataIn  string `yaml:"data_in" json:"data_in"`
	DataOut string `yaml:"data_out" json:"data_out"`
}

type testingRequest struct {
	Code    string      `json:"code"`
	Checker string      `json:"checker"`
	Tests   []suiteCase `json:"tests"`
}

type testingReport struct {
	Num   int  `json:"num"`
	NumOK int  `json:"num_ok"`
	OK    bool `json:"ok"`
	Tests []struct {
		DataIn    string  `json:"data_in"`
		DataOut   string  `json:"data_out"`
		Result    *string `json:"result"`
		Error     *string `json:"error"`
		OK        bool    `json:"ok"`
		ErrorCode string  `json:"error_code"`
	} `json:"tests"`
}

func loadSuite(path string) (*suite, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading suite: %w", err)
	}
	return parseSuite(data)
}

func parseSuite(data []byte) (*suite, error) {
	var s suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing suite: %w", err)
	}
	if strings.TrimSpace(s.Checker) == "" {
		return nil, fmt.Errorf("suite has no checker")
	}
	return &s, nil
}

func (s *suite) request(code string) testingRequest {
	tests := s.Tests
	if tests == nil {
		tests = []suiteCase{}
	}
	return testingRequest{Code: code, Checker: s.Checker, Tests: tests}
}

func printReport(w io.Writer, r *testingReport) {
	for i, t := range r.Tests {
		verdict := "PASS"
		if !t.OK {
			verdict = "FAIL"
		}
		fmt.Fprintf(w, "%s case %d\n", verdict, i+1)
		if t.OK {
			continue
		}
		fmt.Fprintf(w, "  input:    %q\n", t.DataIn)
		fmt.Fprintf(w, "  expected: %q\n", t.DataOut)
		if t.Result != nil {
			fmt.Fprintf(w, "  got:      %q\n", *t.Result)
		}
		if t.Error != nil {
			if t.ErrorCode != "" {
				fmt.Fprintf(w, "  error:    [%s] %s\n", t.ErrorCode, *t.Error)
			} else {
				fmt.Fprintf(w, "  error:    %s\n", *t.Error)
			}
		}
	}
	fmt.Fprintf(w, "%d/%d passed\n", r.NumOK, r.Num)
}
