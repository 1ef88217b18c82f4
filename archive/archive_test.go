package archive

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/datastore"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/models"
)

func writeDatastoreFile(t *testing.T, root, rel, content string) (string, models.FileRecord) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	hash, err := datastore.HashFile(p)
	require.NoError(t, err)
	return p, models.FileRecord{Name: filepath.Base(rel), Path: rel, Version: 1, Hash: hash}
}

func TestFolderArchiver_InsideDatastoreIsRelative(t *testing.T) {
	root := t.TempDir()
	src, rec := writeDatastoreFile(t, root, "hk/mag/l0/hsk-pw/2025/10/f_000.pkts", "x")

	a := FolderArchiver{Root: filepath.Join(root, "archive"), DatastoreRoot: root}
	got, err := a.Archive(context.Background(), src, rec)
	require.NoError(t, err)
	assert.Equal(t, "archive/hk/mag/l0/hsk-pw/2025/10/f_000.pkts", got)
	assert.FileExists(t, filepath.Join(root, "archive", "hk/mag/l0/hsk-pw/2025/10/f_000.pkts"))
}

func TestFolderArchiver_OutsideDatastoreIsAbsolute(t *testing.T) {
	root := t.TempDir()
	archiveRoot := t.TempDir()
	src, rec := writeDatastoreFile(t, root, "ialirt/2025/10/imap_ialirt_20251017.csv", "x")

	got, err := FolderArchiver{Root: archiveRoot, DatastoreRoot: root}.Archive(context.Background(), src, rec)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
	assert.FileExists(t, got)
}

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

func TestS3Archiver_Upload(t *testing.T) {
	root := t.TempDir()
	src, rec := writeDatastoreFile(t, root, "science/mag/l2/2025/10/f_v001.cdf", "payload")

	putter := &fakePutter{}
	a := NewS3ArchiverWithClient(S3Config{Bucket: "imap-archive", Prefix: "datastore"}, putter)
	got, err := a.Archive(context.Background(), src, rec)
	require.NoError(t, err)

	assert.Equal(t, "s3://imap-archive/datastore/science/mag/l2/2025/10/f_v001.cdf", got)
	assert.Equal(t, "datastore/science/mag/l2/2025/10/f_v001.cdf", aws.ToString(putter.input.Key))
	assert.Equal(t, "payload", string(putter.body))

	md5raw, err := base64.StdEncoding.DecodeString(aws.ToString(putter.input.ContentMD5))
	require.NoError(t, err)
	assert.Len(t, md5raw, 16)
}

func TestS3Archiver_UploadError(t *testing.T) {
	root := t.TempDir()
	src, rec := writeDatastoreFile(t, root, "a/b.cdf", "payload")

	a := NewS3ArchiverWithClient(S3Config{Bucket: "b"}, &fakePutter{err: errors.New("denied")})
	_, err := a.Archive(context.Background(), src, rec)
	assert.Error(t, err)
}
