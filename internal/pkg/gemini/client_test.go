package gemini

import (
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"
)

func TestResponseTextJoinsTextParts(t *testing.T) {
	res := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{
				genai.Text(`{"productName":`),
				genai.Blob{MIMEType: "image/png"},
				genai.Text(` "Tee"}`),
			}},
		}},
	}

	got, err := responseText(res)
	if err != nil {
		t.Fatalf("responseText: %v", err)
	}
	if got != `{"productName": "Tee"}` {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestResponseTextEmpty(t *testing.T) {
	cases := []*genai.GenerateContentResponse{
		nil,
		{},
		{Candidates: []*genai.Candidate{{}}},
		{Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []genai.Part{genai.Blob{}}}}}},
	}
	for i, res := range cases {
		if _, err := responseText(res); !errors.Is(err, ErrEmptyResponse) {
			t.Fatalf("case %d: expected ErrEmptyResponse, got %v", i, err)
		}
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(t.Context(), "", ""); err == nil {
		t.Fatal("expected config error")
	}
}
