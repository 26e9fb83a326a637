package uploads

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"certify-backend/internal/application/authz"
	"certify-backend/internal/pkg/apperr"
	"certify-backend/internal/pkg/constants"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStorage struct {
	bucket, path string
	err          error
}

func (f *fakeStorage) CreateSignedUploadURL(_ context.Context, bucket, path string) (string, error) {
	f.bucket, f.path = bucket, path
	if f.err != nil {
		return "", f.err
	}
	return "https://storage.example/upload?token=abc", nil
}

func TestGetProofUploadURL(t *testing.T) {
	fs := &fakeStorage{}
	student := authz.Caller{UserID: uuid.New(), Role: constants.Student}
	s := &Service{Client: fs, Now: func() time.Time { return time.UnixMilli(1700000000000) }}

	res, err := s.GetProofUploadURL(context.Background(), student, "../../Internship Letter.PDF")
	require.NoError(t, err)
	assert.Equal(t, DefaultProofBucket, fs.bucket)
	assert.Equal(t, student.UserID.String()+"/1700000000000-Internship_Letter.PDF", res.Path)
	assert.Equal(t, DefaultProofBucket+"/"+res.Path, res.ProofRef)
	assert.Equal(t, "https://storage.example/upload?token=abc", res.UploadURL)
}

func TestGetProofUploadURL_Errors(t *testing.T) {
	student := authz.Caller{UserID: uuid.New(), Role: constants.Student}
	s := &Service{Client: &fakeStorage{}}

	_, err := s.GetProofUploadURL(context.Background(), student, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = s.GetProofUploadURL(context.Background(), student, "payload.exe")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = s.GetProofUploadURL(context.Background(), authz.Caller{UserID: uuid.New(), Role: constants.Faculty}, "a.pdf")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	s.Client = &fakeStorage{err: errors.New("storage down")}
	_, err = s.GetProofUploadURL(context.Background(), student, "a.pdf")
	assert.Error(t, err)
}

func TestHTTPClient_CreateSignedUploadURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/storage/v1/object/upload/sign/proofs/u/1-a.pdf", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url":"/object/upload/sign/proofs/u/1-a.pdf?token=t"}`))
	}))
	defer srv.Close()

	c := &HTTPClient{BaseURL: srv.URL, SecretKey: "secret"}
	url, err := c.CreateSignedUploadURL(context.Background(), "proofs", "u/1-a.pdf")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/storage/v1/object/upload/sign/proofs/u/1-a.pdf?token=t", url)
}

func TestHTTPClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"Unauthorized"}`))
	}))
	defer srv.Close()

	_, err := (&HTTPClient{BaseURL: srv.URL, SecretKey: "k"}).CreateSignedUploadURL(context.Background(), "b", "p")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "status 403"))

	_, err = (&HTTPClient{}).CreateSignedUploadURL(context.Background(), "b", "p")
	assert.Error(t, err)
}
