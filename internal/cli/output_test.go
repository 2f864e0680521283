package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(map[string]float64{"average_age": 39.95})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error(CodeOperation, "gather failed", nil)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeOperation, resp.Error.Code)
	assert.Equal(t, "gather failed", resp.Error.Message)
	assert.Nil(t, resp.Error.Details)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	require.NoError(t, formatter.Success("Seeded 10 user(s), skipped 0 existing"))
	assert.Equal(t, "Seeded 10 user(s), skipped 0 existing\n", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	tests := []struct {
		name        string
		verbose     bool
		wantDetails bool
	}{
		{"quiet", false, false},
		{"verbose", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:  "text",
				Writer:  buf,
				Verbose: tt.verbose,
			}

			err := formatter.Error(CodeCommand, "failed to open database", map[string]string{"driver": "mysql"})
			require.NoError(t, err)
			assert.Contains(t, buf.String(), "Error [E002]: failed to open database")
			if tt.wantDetails {
				assert.Contains(t, buf.String(), "Details:")
			} else {
				assert.NotContains(t, buf.String(), "Details:")
			}
		})
	}
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			errOut := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    out,
				ErrWriter: errOut,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("Streamed %d user(s)", 3)

			assert.Empty(t, out.String(), "verbose output must not corrupt stdout")
			if tt.wantLog {
				assert.Contains(t, errOut.String(), "Streamed 3 user(s)")
			} else {
				assert.Empty(t, errOut.String())
			}
		})
	}
}

func TestGetErrWriter_FallsBackToWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Writer: buf}
	assert.Same(t, buf, formatter.GetErrWriter())
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"plain error", errors.New("boom"), ExitFailure},
		{"command error", NewExitError(ExitCommandError, "bad flag"), ExitCommandError},
		{"wrapped exit error", fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "config", errors.New("x"))), ExitCommandError},
		{"failure", WrapExitError(ExitFailure, "query", errors.New("x")), ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestExitError_Message(t *testing.T) {
	cause := errors.New("no such table")
	err := WrapExitError(ExitFailure, "stream failed", cause)

	assert.Equal(t, "stream failed: no such table", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "bad flag", NewExitError(ExitCommandError, "bad flag").Error())
}

func TestReportError_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	code := ReportError(formatter, WrapExitError(ExitCommandError, "configuration error", errors.New("page_size: invalid value 0")))
	assert.Equal(t, ExitCommandError, code)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeCommand, resp.Error.Code)
	assert.Equal(t, "configuration error", resp.Error.Message)
	assert.Equal(t, "page_size: invalid value 0", resp.Error.Details)
}

func TestReportError_TextIncludesCause(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	code := ReportError(formatter, WrapExitError(ExitFailure, "get failed", errors.New("user not found")))
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, "Error [E001]: get failed: user not found\n", buf.String())
}

func TestCLIError_JSON(t *testing.T) {
	cliErr := CLIError{
		Code:    CodeCommand,
		Message: "invalid command",
		Details: []string{"accepts 1 arg(s), received 0"},
	}

	data, err := json.Marshal(cliErr)
	require.NoError(t, err)

	var decoded CLIError
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, CodeCommand, decoded.Code)
	assert.Equal(t, "invalid command", decoded.Message)
}
