package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSkills(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want []string
	}{
		{
			name: "array at the primary path",
			doc:  `{"required_skills":["Go","Python"]}`,
			want: []string{"go", "python"},
		},
		{
			name: "first non-empty candidate wins",
			doc:  `{"required_skills":[],"skills":["Rust"],"all_skills":["C"]}`,
			want: []string{"rust"},
		},
		{
			name: "comma separated string",
			doc:  `{"skills":"Go, Python , ,go"}`,
			want: []string{"go", "python"},
		},
		{
			name: "nested document shape",
			doc:  `{"data":{"skills":["SQL"]}}`,
			want: []string{"sql"},
		},
		{
			name: "profile shape",
			doc:  `{"profile":{"skills":["react","React","  TypeScript "]}}`,
			want: []string{"react", "typescript"},
		},
		{
			name: "no candidate path present",
			doc:  `{"title":"alpha"}`,
			want: nil,
		},
		{
			name: "candidate of the wrong type is skipped",
			doc:  `{"required_skills":42,"skills":["go"]}`,
			want: []string{"go"},
		},
		{
			name: "unreadable document",
			doc:  `{{{`,
			want: nil,
		},
		{
			name: "empty document",
			doc:  ``,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Skills([]byte(tt.doc)))
		})
	}
}
