package paths

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"a/b/c", "a/b/c"},
		{`a\b\c`, "a/b/c"},
		{`a/b\c`, "a/b/c"},
		{"a//b/c", "a/b/c"},
		{"a//b//c", "a/b/c"},
		{"a///b", "a/b"},
		{"a////b", "a/b"},
		{"  a/b/c  ", "a/b/c"},
		{"\t a/b/c \n", "a/b/c"},
		{`  a\b//c\d `, "a/b/c/d"},
		{"", ""},
		{"   ", ""},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseWSL(t *testing.T) {
	cases := []struct {
		in        string
		wantDrive string
		wantTail  string
	}{
		{"/mnt/x/b/c/d", "x", "/b/c/d"},
		{"/mnt/xx/b/c/d", "xx", "/b/c/d"},
		{"/mnt/x/", "x", "/"},
		{"/", "", "/"},
		{"/mnt/C/b/c/d", "", "/mnt/C/b/c/d"}, // uppercase drive is not WSL
		{"/m/x/b/c/d", "", "/m/x/b/c/d"},
		{"/x/b/c/d", "", "/x/b/c/d"},
		{"C:/b/c/d", "", "C:/b/c/d"},
		{"c:/b/c/d", "", "c:/b/c/d"},
		{"", "", ""},
		{"a/b/c", "", "a/b/c"},
		{"  /mnt/c/b/c/d", "", "  /mnt/c/b/c/d"}, // non-normalized input
		{"/mnt//c/b/c/d", "", "/mnt//c/b/c/d"},
		{"  ", "", "  "},
	}
	for _, tc := range cases {
		drive, tail := ParseWSL(tc.in)
		if drive != tc.wantDrive || tail != tc.wantTail {
			t.Errorf("ParseWSL(%q) = (%q, %q), want (%q, %q)", tc.in, drive, tail, tc.wantDrive, tc.wantTail)
		}
	}
}

func TestParseGitBash(t *testing.T) {
	cases := []struct {
		in        string
		wantDrive string
		wantTail  string
	}{
		{"/x/b/c/d", "x", "/b/c/d"},
		{"/xx/b/c/d", "xx", "/b/c/d"},
		{"/c/", "c", "/"},
		{"/mnt/x/b/c/d", "mnt", "/x/b/c/d"}, // no special case for /mnt/
		{"/", "", "/"},
		{"/C/b/c/d", "", "/C/b/c/d"},
		{"C:/b/c/d", "", "C:/b/c/d"},
		{"c:/b/c/d", "", "c:/b/c/d"},
		{"", "", ""},
		{"a/b/c", "", "a/b/c"},
		{"  /c/b/c/d", "", "  /c/b/c/d"},
		{"//c/b/c/d", "", "//c/b/c/d"},
		{"  ", "", "  "},
	}
	for _, tc := range cases {
		drive, tail := ParseGitBash(tc.in)
		if drive != tc.wantDrive || tail != tc.wantTail {
			t.Errorf("ParseGitBash(%q) = (%q, %q), want (%q, %q)", tc.in, drive, tail, tc.wantDrive, tc.wantTail)
		}
	}
}

func TestParseWindows(t *testing.T) {
	cases := []struct {
		in        string
		wantDrive string
		wantTail  string
	}{
		{"C:/b/c/d", "C", "/b/c/d"},
		{"c:/b/c/d", "c", "/b/c/d"},
		{"cd:/b/c/d", "cd", "/b/c/d"},
		{"c:/", "c", "/"},
		{"c:", "c", "/"},
		{"a/b/c", "", "a/b/c"},
		{"", "", ""},
		{"  C:/b/c/d", "", "  C:/b/c/d"},
		{"  c:/b/c/d", "", "  c:/b/c/d"},
		{"  ", "", "  "},
	}
	for _, tc := range cases {
		drive, tail := ParseWindows(tc.in)
		if drive != tc.wantDrive || tail != tc.wantTail {
			t.Errorf("ParseWindows(%q) = (%q, %q), want (%q, %q)", tc.in, drive, tail, tc.wantDrive, tc.wantTail)
		}
	}
}

func TestDetect(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/mnt/x/a/b", StyleWSL},
		{"/mnt/xx/a/b", StyleWSL},
		{"   /mnt/x/a/b  ", StyleWSL},
		{"/mnt//x/a/b", StyleWSL}, // normalized before detection
		{"/mnt/C/a/b", ""},        // uppercase drive
		{"/mnt/x", ""},            // no trailing slash after drive segment
		{"C:/a/b", StyleWindows},
		{"c:/a/b", StyleWindows},
		{"c:", StyleWindows},
		{"ABC:/foo", StyleWindows},
		{"ABC:", StyleWindows},
		{`C:\a\b`, StyleWindows},
		{"/c/a/b", ""}, // git-bash is never detected
		{"/x/", ""},
		{"relative/path", ""},
		{"", ""},
		{"   ", ""},
	}
	for _, tc := range cases {
		if got := Detect(tc.in); got != tc.want {
			t.Errorf("Detect(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestConvertWSLToWindows(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/mnt/d/Projects", "d:/Projects"},
		{"/mnt/dd/Projects", "dd:/Projects"},
		{"/c/Users/Test", "/c/Users/Test"}, // rooted, no drive in wsl mode
		{"/C/Users/Example", "/C/Users/Example"},
		{"  /c/Users/Example", "  /c/Users/Example"},
		{"/c/", "/c/"},
		{"/d/", "/d/"},
		{"some/relative/path", "some/relative/path"},
		{"relative/path", "relative/path"},
		{"C:/relative/path", "C:/relative/path"}, // detected as windows already
		{"C:/relative/path   ", "C:/relative/path   "},
		{`C:\relative\path`, `C:\relative\path`},
	}
	for _, tc := range cases {
		if got := Convert(tc.in, StyleWSL, StyleWindows); got != tc.want {
			t.Errorf("Convert(%q, wsl, windows) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestConvertWSLToGitBash(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/mnt/d/Projects", "/d/Projects"},
		{"/mnt/dd/Projects", "/dd/Projects"},
		{"/c/Users/Example", "/c/Users/Example"},
		{"/c/", "/c/"},
		{"relative/path", "relative/path"},
		{"C:/relative/path", "/c/relative/path"}, // detected type overrides
		{"C:/relative/path   ", "/c/relative/path"},
		{`C:\relative\path`, "/c/relative/path"},
	}
	for _, tc := range cases {
		if got := Convert(tc.in, StyleWSL, StyleGitBash); got != tc.want {
			t.Errorf("Convert(%q, wsl, windows_git_bash) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestConvertGitBashToWSL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/d/Projects", "/mnt/d/Projects"},
		{"/c/Users/Test", "/mnt/c/Users/Test"},
		{"/C/Users/Test", "/C/Users/Test"},
		{"/d/", "/mnt/d/"},
		{"/mnt/e/Stuff", "/mnt/e/Stuff"}, // detected as wsl, already target style
		{"relative/path", "relative/path"},
		{"d:/Projects", "/mnt/d/Projects"},
		{"D:/Projects", "/mnt/d/Projects"},
		{`D:\Projects`, "/mnt/d/Projects"},
	}
	for _, tc := range cases {
		if got := Convert(tc.in, StyleGitBash, StyleWSL); got != tc.want {
			t.Errorf("Convert(%q, windows_git_bash, wsl) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestConvertGitBashToWindows(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/d/Projects", "d:/Projects"},
		{"/c/Users/Test", "c:/Users/Test"},
		{"/d/", "d:/"},
		{"/c/", "c:/"},
		{"/mnt/e/Stuff", "e:/Stuff"},     // detected as wsl, parsed as wsl
		{"/mnt/E/Stuff", "mnt:/E/Stuff"}, // not wsl (uppercase), parsed as git-bash drive "mnt"
		{"relative/path", "relative/path"},
	}
	for _, tc := range cases {
		if got := Convert(tc.in, StyleGitBash, StyleWindows); got != tc.want {
			t.Errorf("Convert(%q, windows_git_bash, windows) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestConvertWindowsToWSL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`C:\Users\Test`, "/mnt/c/Users/Test"},
		{`c:\Users\Test`, "/mnt/c/Users/Test"},
		{"c:/Users/Test", "/mnt/c/Users/Test"},
		{`D:\`, "/mnt/d/"},
		{`E:\Folder\Sub`, "/mnt/e/Folder/Sub"},
		{`some\relative\path`, "some/relative/path"},
		{"C:/Users/Test", "/mnt/c/Users/Test"}, // uppercase drive, forward slashes
	}
	for _, tc := range cases {
		if got := Convert(tc.in, StyleWindows, StyleWSL); got != tc.want {
			t.Errorf("Convert(%q, windows, wsl) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestConvertWindowsToGitBash(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`C:\Users\Test`, "/c/Users/Test"},
		{`c:\Users\Test`, "/c/Users/Test"},
		{`D:\`, "/d/"},
		{`E:\Folder\Sub`, "/e/Folder/Sub"},
		{`some\relative\path`, "some/relative/path"},
		{"C:/Users/Test", "/c/Users/Test"},
	}
	for _, tc := range cases {
		if got := Convert(tc.in, StyleWindows, StyleGitBash); got != tc.want {
			t.Errorf("Convert(%q, windows, windows_git_bash) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestConvertEdgeAndIdentity(t *testing.T) {
	// Empty path
	for _, pair := range [][2]string{{StyleWindows, StyleWSL}, {StyleWSL, StyleWindows}, {StyleWSL, StyleGitBash}} {
		if got := Convert("", pair[0], pair[1]); got != "" {
			t.Errorf("Convert(%q, %s, %s) = %q, want empty", "", pair[0], pair[1], got)
		}
	}

	// Identity
	if got := Convert(`C:\Users\Test`, StyleWindows, StyleWindows); got != `C:\Users\Test` {
		t.Errorf("identity windows: %q", got)
	}
	if got := Convert("/c/Users/Test", StyleWSL, StyleWSL); got != "/c/Users/Test" {
		t.Errorf("identity wsl: %q", got)
	}
	if got := Convert("/c/Users/Test", StyleGitBash, StyleGitBash); got != "/c/Users/Test" {
		t.Errorf("identity git-bash: %q", got)
	}

	// Unknown styles pass through
	if got := Convert("/c/path", "unknown", StyleWindows); got != "/c/path" {
		t.Errorf("unknown from: %q", got)
	}
	if got := Convert("C:/path", StyleWindows, "unknown"); got != "C:/path" {
		t.Errorf("unknown to: %q", got)
	}
	if got := Convert("/c/path", StyleWSL, "unknown"); got != "/c/path" {
		t.Errorf("unknown to from wsl: %q", got)
	}

	// Relative both directions
	if got := Convert("relative/path", StyleWSL, StyleWindows); got != "relative/path" {
		t.Errorf("relative wsl->windows: %q", got)
	}
	if got := Convert(`relative\path`, StyleWindows, StyleWSL); got != "relative/path" {
		t.Errorf("relative windows->wsl: %q", got)
	}
}

// Canonical drive paths survive a round trip up to drive case folding and
// slash normalization.
func TestConvertRoundTrip(t *testing.T) {
	styles := []string{StyleWSL, StyleGitBash, StyleWindows}
	canonical := map[string]string{
		StyleWSL:     "/mnt/d/Projects/app",
		StyleGitBash: "/d/Projects/app",
		StyleWindows: "d:/Projects/app",
	}
	for _, from := range styles {
		for _, to := range styles {
			if from == to {
				continue
			}
			src := canonical[from]
			there := Convert(src, from, to)
			if there != canonical[to] {
				t.Errorf("Convert(%q, %s, %s) = %q, want %q", src, from, to, there, canonical[to])
				continue
			}
			back := Convert(there, to, from)
			if back != src {
				t.Errorf("round trip %s -> %s -> %s: got %q, want %q", from, to, from, back, src)
			}
		}
	}
}

// Converting an already-converted path again is a no-op.
func TestConvertIdempotent(t *testing.T) {
	inputs := []string{"/mnt/d/Projects", `C:\Users\Test`, "/d/Projects", "relative/path"}
	styles := []string{StyleWSL, StyleGitBash, StyleWindows}
	for _, p := range inputs {
		for _, from := range styles {
			for _, to := range styles {
				once := Convert(p, from, to)
				twice := Convert(once, to, to)
				if twice != once {
					t.Errorf("Convert(Convert(%q, %s, %s), %s, %s) = %q, want %q", p, from, to, to, to, twice, once)
				}
			}
		}
	}
}

// When detection recognizes the input, the declared from style is ignored.
func TestConvertDetectionDominance(t *testing.T) {
	cases := []struct {
		in   string
		from string
		to   string
	}{
		{"C:/Users/Test", StyleWSL, StyleGitBash},
		{"/mnt/d/Projects", StyleGitBash, StyleWindows},
		{`D:\Projects`, StyleGitBash, StyleWSL},
	}
	for _, tc := range cases {
		detected := Detect(tc.in)
		if detected == "" || detected == tc.from {
			t.Fatalf("test setup: Detect(%q) = %q", tc.in, detected)
		}
		got := Convert(tc.in, tc.from, tc.to)
		want := Convert(tc.in, detected, tc.to)
		if got != want {
			t.Errorf("Convert(%q, %s, %s) = %q, want detected-style result %q", tc.in, tc.from, tc.to, got, want)
		}
	}
}
