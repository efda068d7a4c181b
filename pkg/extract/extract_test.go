package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "fenced with language",
			raw:  "\n    Here is the function:\n\n    ```python\n    print(\"hello\")\n    ```\n    ",
			want: `print("hello")`,
		},
		{
			name: "fenced without language keeps inner indentation",
			raw:  "\n    ```\n    x = 10\n    print(x)\n    ```\n    ",
			want: "x = 10\n    print(x)",
		},
		{
			name: "explanations around fence",
			raw:  "Here is the corrected version:\n\n```python\na = 1\nb = 2\nprint(a + b)\n```\n\nThis should fix the issue.\n",
			want: "a = 1\nb = 2\nprint(a + b)",
		},
		{
			name: "first of several fences",
			raw:  "```java\nclass A {}\n```\nor\n```java\nclass B {}\n```",
			want: "class A {}",
		},
		{
			name: "no fence drops prose headers",
			raw:  "    Here is what the code should look like:\n    The code below is corrected:\n\n    x = 5\n    y = 6\n    print(x + y)\n    ",
			want: "x = 5\n    y = 6\n    print(x + y)",
		},
		{
			name: "no fence drops source lines starting with Fix",
			raw:  "Fixed version:\nFixture = 1\nprint(2)",
			want: "print(2)",
		},
		{
			name: "fenced with CRLF line endings",
			raw:  "Here you go:\r\n```python\r\nprint('ok')\r\n```\r\n",
			want: "print('ok')",
		},
		{
			name: "fenced CRLF multi-line",
			raw:  "```\r\nx = 1\r\nprint(x)\r\n```",
			want: "x = 1\nprint(x)",
		},
		{name: "empty", raw: "", want: ""},
		{name: "plain code", raw: "print('hello world')", want: "print('hello world')"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Code(tt.raw))
		})
	}
}

func TestStrictCode(t *testing.T) {
	got, err := Strict.Code("sure\n```python\nprint(1)\n```")
	require.NoError(t, err)
	assert.Equal(t, "print(1)", got)

	got, err = Strict.Code("```java\r\nclass A {}\r\n```")
	require.NoError(t, err)
	assert.Equal(t, "class A {}", got)

	_, err = Strict.Code("print(1)")
	var mpe *MalformedPatchError
	assert.ErrorAs(t, err, &mpe)
}

func TestProjectPatch(t *testing.T) {
	t.Run("plain object", func(t *testing.T) {
		got, err := ProjectPatch(`{"main.py": "print(1)\n", "lib/util.py": "X = 2"}`)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"main.py": "print(1)\n", "lib/util.py": "X = 2"}, got)
	})

	t.Run("fenced with prose", func(t *testing.T) {
		raw := "Here are the fixes:\n```json\n{\"main.py\": \"print(1)\"}\n```\nDone."
		got, err := ProjectPatch(raw)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"main.py": "print(1)"}, got)
	})

	t.Run("triple quoted values", func(t *testing.T) {
		raw := "{\"main.py\": \"\"\"import util\nprint(util.X)\n\"\"\", \"util.py\": '''X = \"q\"'''}"
		got, err := ProjectPatch(raw)
		require.NoError(t, err)
		assert.Equal(t, "import util\nprint(util.X)\n", got["main.py"])
		assert.Equal(t, `X = "q"`, got["util.py"])
	})

	t.Run("docstrings inside JSON strings", func(t *testing.T) {
		raw := `{"a.py":"def f():\n    '''doc'''\n    return 1\n","b.py":"'''one'''\n'''two'''\n\"\"\"three\"\"\"\n"}`
		got, err := ProjectPatch(raw)
		require.NoError(t, err)
		assert.Equal(t, "def f():\n    '''doc'''\n    return 1\n", got["a.py"])
		assert.Equal(t, "'''one'''\n'''two'''\n\"\"\"three\"\"\"\n", got["b.py"])
	})

	t.Run("triple quoted value next to docstring in JSON string", func(t *testing.T) {
		raw := "{\"a.py\": \"'''doc'''\\n\", \"b.py\": \"\"\"x = 1\ny = 2\"\"\"}"
		got, err := ProjectPatch(raw)
		require.NoError(t, err)
		assert.Equal(t, "'''doc'''\n", got["a.py"])
		assert.Equal(t, "x = 1\ny = 2", got["b.py"])
	})

	t.Run("empty object", func(t *testing.T) {
		got, err := ProjectPatch("{}")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestProjectPatch_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		reason string
	}{
		{name: "no object", raw: "I could not fix it.", reason: "no JSON object found"},
		{name: "unbalanced", raw: `{"main.py": "print(1)"`, reason: "unbalanced braces"},
		{name: "invalid json", raw: `{main.py: print(1)}`, reason: "invalid JSON"},
		{name: "non string value", raw: `{"main.py": 3}`, reason: `value for "main.py" is not a string`},
		{name: "nested object", raw: `{"src": {"main.py": "x"}}`, reason: `value for "src" is not a string`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ProjectPatch(tt.raw)
			var mpe *MalformedPatchError
			require.ErrorAs(t, err, &mpe)
			assert.Equal(t, tt.raw, mpe.Raw)
			assert.Equal(t, tt.reason, mpe.Reason)
		})
	}
}
