package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	for i := range buf {
		buf[i] = 0x42
	}

	remaining := size
	for remaining > 0 {
		toWrite := int64(chunkSize)
		if remaining < toWrite {
			toWrite = remaining
		}
		if _, err := f.Write(buf[:toWrite]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= toWrite
	}
}

// SamplePFT is a plain-text pulmonary function report covering the
// spirometry and diffusion values the extraction stage looks for.
const SamplePFT = `PULMONARY FUNCTION TEST REPORT
Patient: TEST-001   Age: 64   Sex: M   Height: 175 cm

SPIROMETRY          Pre-BD    Predicted   %Pred
FVC (L)             2.85      4.10        69.5
FEV1 (L)            1.72      3.20        53.8
FEV1/FVC (%)        60.4      78.0

LUNG VOLUMES
TLC (L)             5.10      6.40        79.7
RV (L)              2.25      2.30        97.8

DIFFUSION
DLCO (mL/min/mmHg)  14.2      24.5        58.0
`

// WritePFTFixture writes the sample report to path and returns the path.
func WritePFTFixture(t testing.TB, dir string) string {
	t.Helper()

	path := filepath.Join(dir, "pft_sample.txt")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(path, []byte(SamplePFT), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}
