package command

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/onnwee/tweetchat/twitter"
)

type fakeAPI struct {
	timeline []twitter.Status
	pages    []int
	posted   []string
	dms      [][2]string
	postErr  error
	dmErr    error
	timeErr  error
}

func (f *fakeAPI) HomeTimeline(_ context.Context, page int) ([]twitter.Status, error) {
	f.pages = append(f.pages, page)
	return f.timeline, f.timeErr
}

func (f *fakeAPI) UpdateStatus(_ context.Context, text string) error {
	f.posted = append(f.posted, text)
	return f.postErr
}

func (f *fakeAPI) SendDirectMessage(_ context.Context, screenName, text string) error {
	f.dms = append(f.dms, [2]string{screenName, text})
	return f.dmErr
}

func TestNotFound(t *testing.T) {
	s := NewSet(&fakeAPI{})
	r, err := s.Execute(context.Background(), NewResolver().Resolve("what"))
	if err != nil {
		t.Fatal(err)
	}
	if r.Text != "Command not found" || r.Markup != "" {
		t.Errorf("reply = %+v", r)
	}
}

func TestPost(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		posted bool
	}{
		{"empty", "", "Empty tweet", false},
		{"blank", "   ", "Empty tweet", false},
		{"too long", strings.Repeat("a", 141), "Tweet too long, 141 characters. Must be up to 140.", false},
		{"limit", strings.Repeat("a", 140), "Tweet sent", true},
		{"multibyte limit", strings.Repeat("é", 140), "Tweet sent", true},
		{"trimmed", "  hi  ", "Tweet sent", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{}
			r, err := NewSet(api).Post(context.Background(), tt.input)
			if err != nil {
				t.Fatal(err)
			}
			if r.Text != tt.want {
				t.Errorf("reply = %q, want %q", r.Text, tt.want)
			}
			if (len(api.posted) == 1) != tt.posted {
				t.Errorf("posted = %v, want posted %v", api.posted, tt.posted)
			}
			if tt.posted && api.posted[0] != strings.TrimSpace(tt.input) {
				t.Errorf("posted text = %q", api.posted[0])
			}
		})
	}
}

func TestPostErrors(t *testing.T) {
	api := &fakeAPI{postErr: &twitter.ClientError{Status: 403, Reason: "duplicate"}}
	r, err := NewSet(api).Post(context.Background(), "x")
	if err != nil || r.Text != "duplicate" {
		t.Errorf("client error reply = %+v, %v", r, err)
	}

	api = &fakeAPI{postErr: errors.New("connection reset")}
	if _, err := NewSet(api).Post(context.Background(), "x"); err == nil {
		t.Error("transport failure should propagate")
	}

	api = &fakeAPI{postErr: &twitter.ClientError{Status: 401, Reason: "Unauthorized"}}
	r, err = NewSet(api).Post(context.Background(), "x")
	if !twitter.IsAuthExpired(err) || r.Text != "" {
		t.Errorf("expired authorization = %+v, %v, want the error returned", r, err)
	}
}

func TestTimeline(t *testing.T) {
	api := &fakeAPI{timeline: []twitter.Status{
		{Author: "alice", Text: "hello"},
		{Author: "bob", Text: "a <b> & c"},
	}}
	s := NewSet(api)
	r, err := s.Execute(context.Background(), NewResolver().Resolve("timeline"))
	if err != nil {
		t.Fatal(err)
	}
	if want := "@alice: hello\n\n@bob: a <b> & c"; r.Text != want {
		t.Errorf("text = %q, want %q", r.Text, want)
	}
	wantMarkup := `<a href="http://twitter.com/alice">@alice</a>: hello<br/><br/>` +
		`<a href="http://twitter.com/bob">@bob</a>: a &lt;b&gt; &amp; c`
	if r.Markup != wantMarkup {
		t.Errorf("markup = %q, want %q", r.Markup, wantMarkup)
	}
	if len(api.pages) != 1 || api.pages[0] != 1 {
		t.Errorf("pages = %v", api.pages)
	}

	if _, err := s.Execute(context.Background(), NewResolver().Resolve("timeline 3")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Execute(context.Background(), NewResolver().Resolve("timeline 0")); err != nil {
		t.Fatal(err)
	}
	if api.pages[1] != 3 || api.pages[2] != 1 {
		t.Errorf("pages = %v, want [1 3 1]", api.pages)
	}
}

func TestTimelineEmptyAndError(t *testing.T) {
	r, err := NewSet(&fakeAPI{}).Timeline(context.Background(), 1)
	if err != nil || r.Text != "" || r.Markup != "" {
		t.Errorf("empty timeline = %+v, %v", r, err)
	}
	if _, err := NewSet(&fakeAPI{timeErr: errors.New("boom")}).Timeline(context.Background(), 1); err == nil {
		t.Error("expected error")
	}
}

func TestDirectMessage(t *testing.T) {
	api := &fakeAPI{}
	s := NewSet(api)
	r, err := s.Execute(context.Background(), NewResolver().Resolve("dm @alice hi there"))
	if err != nil || r.Text != "Message sent" {
		t.Fatalf("reply = %+v, %v", r, err)
	}
	if api.dms[0] != [2]string{"alice", "hi there"} {
		t.Errorf("dm = %v", api.dms[0])
	}

	api.dmErr = &twitter.ClientError{Reason: "You cannot send messages to users who are not following you."}
	r, err = s.DirectMessage(context.Background(), "bob", "x")
	if err != nil || r.Text != "You cannot send messages to users who are not following you." {
		t.Errorf("reply = %+v, %v", r, err)
	}

	api.dmErr = errors.New("timeout")
	if _, err := s.DirectMessage(context.Background(), "bob", "x"); err == nil {
		t.Error("expected error")
	}
}
