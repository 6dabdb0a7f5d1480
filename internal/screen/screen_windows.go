//go:build windows

package screen

import (
	"bytes"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
)

type windowsBackend struct{ tempDir string }

func (w *windowsBackend) captureRaw() []byte {
	tmpFile := filepath.Join(w.tempDir, "frame.png")
	script := `Add-Type -AssemblyName System.Windows.Forms,System.Drawing;` +
		`$b = [System.Windows.Forms.Screen]::PrimaryScreen.Bounds;` +
		`$bmp = New-Object System.Drawing.Bitmap $b.Width, $b.Height;` +
		`$g = [System.Drawing.Graphics]::FromImage($bmp);` +
		`$g.CopyFromScreen($b.Location, [System.Drawing.Point]::Empty, $b.Size);` +
		`$bmp.Save('` + tmpFile + `', [System.Drawing.Imaging.ImageFormat]::Png);` +
		`$g.Dispose(); $bmp.Dispose()`
	cmd := exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", script)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		slog.Error("screenshot failed", "error", err, "stderr", stderr.String())
		return nil
	}
	data, err := os.ReadFile(tmpFile)
	if err != nil {
		slog.Error("failed to read screenshot", "error", err)
		return nil
	}
	os.Remove(tmpFile)
	return data
}

func (w *windowsBackend) cleanup() {}

// New creates a platform-specific screen source
func New() Source {
	tmpDir, err := os.MkdirTemp("", "autotracker-screen-*")
	if err != nil {
		slog.Error("failed to create temp dir", "error", err)
		tmpDir = os.TempDir()
	}
	return newBase(&windowsBackend{tempDir: tmpDir}, tmpDir)
}
