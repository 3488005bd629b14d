package domain

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePersonaTag(t *testing.T) {
	tag, err := ParsePersonaTag(" ethics ")
	require.NoError(t, err)
	require.Equal(t, PersonaEthics, tag)

	tag, err = ParsePersonaTag("EMOTIONAL_SUPPORT")
	require.NoError(t, err)
	require.Equal(t, PersonaEmotionalSupport, tag)

	_, err = ParsePersonaTag("ASTROLOGY")
	require.Error(t, err)
	_, err = ParsePersonaTag("")
	require.Error(t, err)
}

func TestPersonaCallbackData_RoundTrip(t *testing.T) {
	for _, tag := range []PersonaTag{PersonaExplain, PersonaEmotionalSupport, PersonaParenting, PersonaEthics} {
		got, err := PersonaFromCallbackData(tag.CallbackData())
		require.NoError(t, err)
		require.Equal(t, tag, got)
	}
	require.Equal(t, "persona:PARENTING", PersonaParenting.CallbackData())

	_, err := PersonaFromCallbackData("EXPLAIN")
	require.Error(t, err)
	_, err = PersonaFromCallbackData("persona:UNKNOWN")
	require.Error(t, err)
}

func TestCompletionOutcome_Retryable(t *testing.T) {
	cases := []struct {
		outcome CompletionOutcome
		want    bool
	}{
		{Success("hi"), false},
		{Timeout("slow"), true},
		{ConnectionFailure("refused"), true},
		{RemoteError(http.StatusTooManyRequests, "rate"), true},
		{RemoteError(http.StatusUnauthorized, "auth"), false},
		{RemoteError(http.StatusInternalServerError, "boom"), false},
		{MalformedResponse("garbage"), false},
	}
	for _, tc := range cases {
		t.Run(tc.outcome.Kind.String(), func(t *testing.T) {
			require.Equal(t, tc.want, tc.outcome.Retryable())
		})
	}
}

func TestUpdate_Routable(t *testing.T) {
	require.True(t, Update{Kind: UpdateText, ConversationID: 5}.Routable())
	require.True(t, Update{Kind: UpdateCallback, ConversationID: -5}.Routable())
	require.False(t, Update{Kind: UpdateText}.Routable())
	require.False(t, Update{ConversationID: 5}.Routable())
}

func TestKindStrings(t *testing.T) {
	require.Equal(t, "unsupported", UpdateUnsupported.String())
	require.Equal(t, "command", UpdateCommand.String())
	require.Equal(t, "malformed_response", OutcomeMalformedResponse.String())
	require.Equal(t, "unknown", OutcomeKind(99).String())
}
