package registry

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedBearer(t *testing.T, sub string) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("docker-push-test-key"))
	require.NoError(t, err)
	return signed
}

func TestCallerFromRequest_BearerHeader(t *testing.T) {
	id := uuid.New()
	req, _ := http.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+signedBearer(t, id.String()))

	caller := callerFromRequest(req)
	require.NotNil(t, caller)
	assert.Equal(t, id, caller.id)
}

func TestCallerFromRequest_BasicHeaderUsesPasswordAsToken(t *testing.T) {
	id := uuid.New()
	creds := base64.StdEncoding.EncodeToString([]byte("docker-user:" + signedBearer(t, id.String())))
	req, _ := http.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Basic "+creds)

	caller := callerFromRequest(req)
	require.NotNil(t, caller)
	assert.Equal(t, id, caller.id)
}

func TestCallerFromRequest_NoAuthorizationHeaderIsAnonymous(t *testing.T) {
	req, _ := http.NewRequest("GET", "/", nil)
	assert.Nil(t, callerFromRequest(req))
}

func TestCallerFromRequest_MalformedBasicHeaderIsAnonymous(t *testing.T) {
	req, _ := http.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Basic not-base64!!")
	assert.Nil(t, callerFromRequest(req))
}

func TestCallerFromRequest_GarbageBearerTokenIsAnonymous(t *testing.T) {
	req, _ := http.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	assert.Nil(t, callerFromRequest(req))
}

func TestSummarizeManifestLayers_SumsLayerSizesNotManifestBytes(t *testing.T) {
	manifest := manifestV2{
		Config: manifestDescriptor{MediaType: "application/vnd.oci.image.config.v1+json", Size: 1234, Digest: "sha256:config"},
		Layers: []manifestDescriptor{
			{MediaType: "application/vnd.oci.image.layer.v1.tar+gzip", Size: 1000, Digest: "sha256:a"},
			{MediaType: "application/vnd.oci.image.layer.v1.tar+gzip", Size: 2048, Digest: "sha256:b"},
			{MediaType: "application/vnd.oci.image.layer.v1.tar+gzip", Size: 512, Digest: "sha256:c"},
		},
	}
	content, err := json.Marshal(manifest)
	require.NoError(t, err)

	size, layerCount := summarizeManifestLayers(content)

	assert.Equal(t, int64(3560), size)
	assert.Equal(t, 3, layerCount)
	assert.NotEqual(t, int64(len(content)), size, "size must be the summed layer size, not the manifest JSON's own byte length")
}

func TestSummarizeManifestLayers_NoLayersYieldsZero(t *testing.T) {
	manifest := manifestV2{Config: manifestDescriptor{Digest: "sha256:config"}}
	content, err := json.Marshal(manifest)
	require.NoError(t, err)

	size, layerCount := summarizeManifestLayers(content)

	assert.Equal(t, int64(0), size)
	assert.Equal(t, 0, layerCount)
}

func TestSummarizeManifestLayers_MalformedContentYieldsZero(t *testing.T) {
	size, layerCount := summarizeManifestLayers([]byte("not json"))

	assert.Equal(t, int64(0), size)
	assert.Equal(t, 0, layerCount)
}
