package supervisor

import "testing"

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"all valid dirs", &Config{Run: dir, Lib: dir, Root: dir}, false},
		{"missing run", &Config{Run: "", Lib: dir, Root: dir}, true},
		{"run does not exist", &Config{Run: dir + "/nope", Lib: dir, Root: dir}, true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestSocketPath(t *testing.T) {
	cfg := &Config{Run: "/run/wshd"}
	if got, want := cfg.SocketPath(), "/run/wshd/wshd.sock"; got != want {
		t.Fatalf("SocketPath() = %q, want %q", got, want)
	}
}
