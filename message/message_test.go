package message_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/zephyrtronium/bluebot/message"
)

func TestPlain(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"text", "test"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := message.NewPlain(c.text, "bocchi")
			if got := m.Text(); got != c.text {
				t.Errorf("wrong text: want %q, got %q", c.text, got)
			}
			if got := m.From(); got != "bocchi" {
				t.Errorf("wrong sender: want %q, got %q", "bocchi", got)
			}
			if got := m.Command(); got != nil {
				t.Errorf("plain message has a command: %+v", got)
			}
		})
	}
}

func TestCommandText(t *testing.T) {
	cases := []struct {
		name   string
		prefix string
		cmd    string
		args   []string
		want   string
	}{
		{"empty-command", "!", "", nil, "!"},
		{"no-args", "!", "test", nil, "!test"},
		{"args", "!", "test", []string{"test"}, "!test test"},
		{"empty-prefix", "", "test", []string{"test"}, "test test"},
		{"empty-prefix-no-args", "", "test", []string{}, "test"},
		{"many-args", "!!", "pay", []string{"ryo", "100"}, "!!pay ryo 100"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cmd := message.NewCommand(c.prefix, c.cmd, c.args, "kita")
			if got := cmd.Text(); got != c.want {
				t.Errorf("wrong text: want %q, got %q", c.want, got)
			}
			if got := cmd.Command(); got != cmd {
				t.Errorf("command isn't itself")
			}
			if got := cmd.From(); got != "kita" {
				t.Errorf("wrong sender: want %q, got %q", "kita", got)
			}
		})
	}
}

func TestParse(t *testing.T) {
	cases := []struct {
		name   string
		prefix string
		text   string
		// cmd is nil for plain messages.
		cmd *message.Command
	}{
		{
			name:   "empty-prefix",
			prefix: "",
			text:   "test test",
			cmd:    &message.Command{Prefix: "", Name: "test", Args: []string{"test"}, Sender: "nijika"},
		},
		{
			name:   "1char-prefix",
			prefix: "!",
			text:   "!test test",
			cmd:    &message.Command{Prefix: "!", Name: "test", Args: []string{"test"}, Sender: "nijika"},
		},
		{
			name:   "2char-prefix-no-args",
			prefix: "!!",
			text:   "!!test",
			cmd:    &message.Command{Prefix: "!!", Name: "test", Args: nil, Sender: "nijika"},
		},
		{
			name:   "plain",
			prefix: "!!",
			text:   "test",
			cmd:    nil,
		},
		{
			name:   "empty-text-empty-prefix",
			prefix: "",
			text:   "",
			cmd:    &message.Command{Prefix: "", Name: "", Args: nil, Sender: "nijika"},
		},
		{
			name:   "empty-text",
			prefix: "!",
			text:   "",
			cmd:    nil,
		},
		{
			name:   "extra-space",
			prefix: "!",
			text:   "!pay  ryo\t100 ",
			cmd:    &message.Command{Prefix: "!", Name: "pay", Args: []string{"ryo", "100"}, Sender: "nijika"},
		},
		{
			name:   "prefix-only",
			prefix: "!",
			text:   "!",
			cmd:    &message.Command{Prefix: "!", Name: "", Args: nil, Sender: "nijika"},
		},
		{
			name:   "spaced-prefix",
			prefix: "bot ",
			text:   "bot ping",
			cmd:    &message.Command{Prefix: "bot ", Name: "", Args: []string{"ping"}, Sender: "nijika"},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := message.Parse(c.text, "nijika", c.prefix)
			if got := m.From(); got != "nijika" {
				t.Errorf("wrong sender: want %q, got %q", "nijika", got)
			}
			if c.cmd == nil {
				if got := m.Command(); got != nil {
					t.Errorf("unexpected command: %+v", got)
				}
				if got := m.Text(); got != c.text {
					t.Errorf("wrong text: want %q, got %q", c.text, got)
				}
				return
			}
			got := m.Command()
			if got == nil {
				t.Fatalf("no command from %q", c.text)
			}
			if diff := cmp.Diff(got, c.cmd, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("wrong command (+got/-want):\n%s", diff)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	cases := []struct {
		prefix string
		text   string
	}{
		{"", "test test"},
		{"!", "!test test"},
		{"!!", "!!test"},
		{"!", "!songrequest https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
	}
	for _, c := range cases {
		m := message.Parse(c.text, "ryo", c.prefix)
		if got := m.Text(); got != c.text {
			t.Errorf("wrong round trip text: want %q, got %q", c.text, got)
		}
	}
}

func TestArg(t *testing.T) {
	cmd := message.NewCommand("!", "pay", []string{"kita", "5"}, "ryo")
	cases := []struct {
		i    int
		want string
	}{
		{-1, ""},
		{0, "kita"},
		{1, "5"},
		{2, ""},
	}
	for _, c := range cases {
		if got := cmd.Arg(c.i); got != c.want {
			t.Errorf("wrong arg %d: want %q, got %q", c.i, c.want, got)
		}
	}
}

func TestFormat(t *testing.T) {
	got := message.Format("%s's balance is %d %s ", "bocchi", 10, "berries")
	want := "bocchi's balance is 10 berries"
	if got != want {
		t.Errorf("wrong format: want %q, got %q", want, got)
	}
}
