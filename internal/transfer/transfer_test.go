package transfer

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadPutsFileAsOctetStream(t *testing.T) {
	var gotBody []byte
	var gotType string
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "app-debug.apk")
	require.NoError(t, os.WriteFile(path, []byte("apk-bytes"), 0600))

	err := NewClient(srv.Client()).Upload(context.Background(), srv.URL+"/upload?sig=abc", path)

	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "application/octet-stream", gotType)
	assert.Equal(t, "apk-bytes", string(gotBody))
}

func TestUploadRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("SignatureDoesNotMatch"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "bundle.zip")
	require.NoError(t, os.WriteFile(path, []byte("zip"), 0600))

	err := NewClient(srv.Client()).Upload(context.Background(), srv.URL, path)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "SignatureDoesNotMatch")
}

func TestTransfersRequireExactly200(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{name: "created", status: http.StatusCreated},
		{name: "no content", status: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			dir := t.TempDir()
			path := filepath.Join(dir, "app.apk")
			require.NoError(t, os.WriteFile(path, []byte("apk"), 0600))
			client := NewClient(srv.Client())

			var statusErr *StatusError
			err := client.Upload(context.Background(), srv.URL, path)
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tt.status, statusErr.StatusCode)

			_, err = client.Download(context.Background(), srv.URL, filepath.Join(dir, "results.xml"))
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, http.MethodGet, statusErr.Method)
		})
	}
}

func TestUploadMissingFile(t *testing.T) {
	err := NewClient(nil).Upload(context.Background(), "https://example.com/x", filepath.Join(t.TempDir(), "missing.apk"))

	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestUploadRejectsBadScheme(t *testing.T) {
	err := NewClient(nil).Upload(context.Background(), "ftp://example.com/x", "whatever")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported URL scheme")
}

func TestDownloadWritesFileAndReturnsChecksum(t *testing.T) {
	payload := []byte("<testsuite tests=\"1\"/>")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "nested", "appium_results.xml")

	checksum, err := NewClient(srv.Client()).Download(context.Background(), srv.URL, dest)

	require.NoError(t, err)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	sum := sha512.Sum512(payload)
	assert.Equal(t, hex.EncodeToString(sum[:]), checksum)

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must not be left behind")
}

func TestDownloadFailureLeavesNoFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "expired", http.StatusForbidden)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "appium_results.xml")

	_, err := NewClient(srv.Client()).Download(context.Background(), srv.URL, dest)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.MethodGet, statusErr.Method)
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}
