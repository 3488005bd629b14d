package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
	lastIn *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.lastIn = in
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func TestGetParameter_HappyPath(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("/relay/telegram-bot-token"), Value: strPtr(`{"token":"123:abc"}`),
	}}}
	client, err := New(api)
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), "/relay/telegram-bot-token")
	require.NoError(t, err)
	require.Equal(t, `{"token":"123:abc"}`, v)
}

func TestGetParameter_RequestsDecryptionOfTrimmedName(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("/relay/open-ai-token"), Value: strPtr(`{"token":"sk"}`), Type: types.ParameterTypeSecureString,
	}}}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "  /relay/open-ai-token ")
	require.NoError(t, err)
	require.NotNil(t, api.lastIn)
	require.Equal(t, "/relay/open-ai-token", *api.lastIn.Name)
	require.True(t, *api.lastIn.WithDecryption)
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("/relay/telegram-bot-token"), Value: nil}}}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "/relay/telegram-bot-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}

func TestGetParameter_ApiError(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("boom")}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "/relay/telegram-bot-token")
	require.Error(t, err)
	require.ErrorContains(t, err, "boom")
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "/relay/telegram-bot-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	api := &fakeAPI{}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

// fakeGetter is a minimal Getter stub.
type fakeGetter struct {
	val   string
	err   error
	names []string
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.names = append(f.names, name)
	return f.val, f.err
}

func TestToken_JSONToken(t *testing.T) {
	g := &fakeGetter{val: `{"token":" 123:abc "}`}
	tok, err := Token(context.Background(), g, "/relay/telegram-bot-token")
	require.NoError(t, err)
	require.Equal(t, "123:abc", tok)
	require.Equal(t, []string{"/relay/telegram-bot-token"}, g.names)
}

func TestToken_MissingTokenField(t *testing.T) {
	g := &fakeGetter{val: `{"other":"value"}`}
	_, err := Token(context.Background(), g, "/relay/open-ai-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "is empty")
}

func TestToken_MalformedJSON(t *testing.T) {
	g := &fakeGetter{val: `{"broken`}
	_, err := Token(context.Background(), g, "/relay/open-ai-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unmarshal")
}

func TestToken_GetterError(t *testing.T) {
	g := &fakeGetter{err: errors.New("ssm unavailable")}
	_, err := Token(context.Background(), g, "/relay/open-ai-token")
	require.Error(t, err)
	require.ErrorContains(t, err, "ssm unavailable")
}

func TestToken_NilGetter(t *testing.T) {
	_, err := Token(context.Background(), nil, "/relay/open-ai-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestToken_EmptyName(t *testing.T) {
	_, err := Token(context.Background(), &fakeGetter{val: `{"token":"x"}`}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty")
}
