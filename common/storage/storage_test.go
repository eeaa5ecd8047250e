package storage

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SensibleWeather/artifact.ci/common/logger"
)

func newOfflineStore(t *testing.T) *S3Store {
	t.Helper()
	client := s3.New(s3.Options{
		Region:       "us-east-1",
		Credentials:  credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "secret", ""),
		BaseEndpoint: aws.String("http://localhost:9000"),
		UsePathStyle: true,
	})
	return NewS3StoreFromClient(client, "artifacts", "http://localhost:9000/artifacts/", logger.Discard())
}

func TestPresignUpload_BindsKeyAndContentType(t *testing.T) {
	store := newOfflineStore(t)

	up, err := store.PresignUpload(context.Background(), "mmkal/repo/1/1/test/dist/index.html", "text/html", 30*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(up.URL)
	require.NoError(t, err)
	assert.Equal(t, "/artifacts/mmkal/repo/1/1/test/dist/index.html", u.Path)
	assert.Equal(t, "1800", u.Query().Get("X-Amz-Expires"))
	assert.Contains(t, u.Query().Get("X-Amz-SignedHeaders"), "content-type")
	assert.Equal(t, "PUT", up.Method)
	assert.Equal(t, "text/html", up.Headers.Get("Content-Type"))
	assert.Empty(t, up.Headers.Get("Host"))
}

type fakeHead struct {
	out *s3.HeadObjectOutput
	err error
}

func (f *fakeHead) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return f.out, f.err
}

func TestStat(t *testing.T) {
	store := newOfflineStore(t)

	store.head = &fakeHead{out: &s3.HeadObjectOutput{
		ContentType:   aws.String("text/css"),
		ContentLength: aws.Int64(42),
	}}
	info, err := store.Stat(context.Background(), "o/r/dist/style.css")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/artifacts/o/r/dist/style.css", info.URL)
	assert.Equal(t, "text/css", info.ContentType)
	assert.Equal(t, int64(42), info.Size)

	store.head = &fakeHead{err: &types.NotFound{}}
	_, err = store.Stat(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	store.head = &fakeHead{err: errors.New("connection refused")}
	_, err = store.Stat(context.Background(), "x")
	assert.ErrorContains(t, err, "connection refused")
	assert.NotErrorIs(t, err, ErrObjectNotFound)
}

func TestBlobURL_EscapesSegments(t *testing.T) {
	store := newOfflineStore(t)
	assert.Equal(t, "http://localhost:9000/artifacts/o/r/my%20file.txt", store.BlobURL("o/r/my file.txt"))
}

func TestTokenSigner_RoundTrip(t *testing.T) {
	signer := NewTokenSigner([]byte("secret"))

	token, exp, err := signer.Sign("o/r/1/1/job/a.html", "text/html", `{"uploadRequestId":"x"}`, false, time.Minute)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 2*time.Second)

	claims, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "o/r/1/1/job/a.html", claims.Pathname())
	assert.Equal(t, []string{"text/html"}, claims.AllowedContentTypes)
	assert.Equal(t, `{"uploadRequestId":"x"}`, claims.TokenPayload)
	assert.False(t, claims.AddRandomSuffix)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenSigner_Rejects(t *testing.T) {
	signer := NewTokenSigner([]byte("secret"))

	_, _, err := signer.Sign("a", "*/*", "", false, time.Minute)
	assert.Error(t, err)

	token, _, err := signer.Sign("a", "text/plain", "", false, time.Minute)
	require.NoError(t, err)

	_, err = NewTokenSigner([]byte("other")).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewTokenSigner([]byte("secret"))
	expired.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = expired.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, UploadClaims{})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = signer.Verify(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestWithRandomSuffix(t *testing.T) {
	got, err := WithRandomSuffix("dist/app.js")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "dist/app-"), got)
	assert.True(t, strings.HasSuffix(got, ".js"), got)
	assert.Len(t, got, len("dist/app-")+8+len(".js"))
}
