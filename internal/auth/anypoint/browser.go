package anypoint

import (
	"fmt"
	"os/exec"
	"runtime"
)

// OpenBrowser opens the URL in the user's default browser. Best-effort: the
// caller also gets the URL back, so a failure here only means the user has
// to open it by hand.
func OpenBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "linux":
		return exec.Command("xdg-open", url).Start()
	default:
		return fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}
}
