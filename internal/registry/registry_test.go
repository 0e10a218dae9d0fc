package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLookup(t *testing.T) {
	r := Default()

	spec, err := r.Lookup("python")
	require.NoError(t, err)
	assert.Equal(t, "script.py", spec.SourceFilename)
	assert.False(t, spec.NeedsCompile())

	spec, err = r.Lookup("java")
	require.NoError(t, err)
	assert.Equal(t, "Main.java", spec.SourceFilename)
	assert.True(t, spec.NeedsCompile())
	assert.Equal(t, MemoryHeavy, spec.MemoryClass)
}

func TestLookupUnknown(t *testing.T) {
	r := Default()
	_, err := r.Lookup("cobol")
	assert.ErrorIs(t, err, ErrUnknownLanguage)
}

func TestListIsStableAndComplete(t *testing.T) {
	r := Default()
	tags := r.List()
	want := []string{"python", "javascript", "cpp", "java", "go", "ruby", "dart"}
	assert.Equal(t, want, tags)
}

func TestStdinDetection(t *testing.T) {
	r := Default()

	cases := []struct {
		tag    string
		source string
		want   bool
	}{
		{"python", "name = input('name? ')", true},
		{"python", "print('hi')", false},
		{"java", "Scanner sc = new Scanner(System.in);", true},
		{"cpp", "int x; cin >> x;", true},
		{"go", "fmt.Scan(&x)", true},
		{"ruby", "line = gets", true},
		{"dart", "var x = stdin.readLineSync();", true},
	}

	for _, tc := range cases {
		spec, err := r.Lookup(tc.tag)
		require.NoError(t, err)
		assert.Equal(t, tc.want, spec.DetectsStdin(tc.source), "tag=%s source=%q", tc.tag, tc.source)
	}
}

func TestMemoryClassBytes(t *testing.T) {
	assert.Equal(t, int64(100*1024*1024), MemoryStandard.Bytes())
	assert.Equal(t, int64(256*1024*1024), MemoryHeavy.Bytes())
}
