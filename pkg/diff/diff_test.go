package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextDiff_EqualSegmentsReconstruct(t *testing.T) {
	a := "one\ntwo\nthree\n"
	b := "one\ntwo\nthree\n"

	changes := TextDiff(a, b)
	for _, c := range changes {
		assert.Equal(t, Equal, c.Tag)
	}

	var reconstructed []string
	for _, c := range changes {
		reconstructed = append(reconstructed, c.Content)
	}
	assert.Equal(t, strings.TrimRight(a, "\n"), strings.Join(reconstructed, "\n"))
}

func TestTextDiff_InsertAndDelete(t *testing.T) {
	a := "alpha\nbeta\ngamma\n"
	b := "alpha\ndelta\ngamma\n"

	changes := TextDiff(a, b)

	var sawDelete, sawInsert bool
	for _, c := range changes {
		if c.Tag == Delete && c.Content == "beta" {
			sawDelete = true
			assert.Equal(t, -1, c.NewIndex)
		}
		if c.Tag == Insert && c.Content == "delta" {
			sawInsert = true
			assert.Equal(t, -1, c.OldIndex)
		}
	}
	assert.True(t, sawDelete, "expected a delete change for 'beta'")
	assert.True(t, sawInsert, "expected an insert change for 'delta'")
}

func TestTextDiff_EmptyInputs(t *testing.T) {
	assert.Empty(t, TextDiff("", ""))
}
