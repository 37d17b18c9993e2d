package api

import (
	"fmt"
	"io"
	"os"

	"github.com/dutchcoders/go-clamd"
)

// scanFile 通过 clamd 扫描文件，返回是否检出恶意内容。
func scanFile(clamdAddr, path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open %q for scan: %w", path, err)
	}
	defer f.Close()

	return scanReader(clamdAddr, f)
}

func scanReader(clamdAddr string, reader io.Reader) (bool, error) {
	client := clamd.NewClamd(clamdAddr)

	abortChan := make(chan bool)
	defer close(abortChan)

	scanChan, err := client.ScanStream(reader, abortChan)
	if err != nil {
		return false, fmt.Errorf("scan stream: %w", err)
	}

	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			return true, nil
		}
	}
	return false, nil
}
