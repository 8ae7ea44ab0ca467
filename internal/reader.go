package internal

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mholt/archives"

	"PlagiCheck/internal/models"
	"PlagiCheck/internal/wfp"
)

// maxSourceSize caps how much of a single file is read into memory.
const maxSourceSize = 64 << 20

// readSource loads the bytes of a regular file or an archive member.
func readSource(ctx context.Context, t Task) ([]byte, error) {
	if !t.isArchive {
		f, err := os.Open(t.path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return readLimited(f)
	}

	fsys, err := archives.FileSystem(ctx, t.path, nil)
	if err != nil {
		return nil, err
	}
	if closer, ok := fsys.(io.Closer); ok {
		defer closer.Close()
	}
	f, err := fsys.Open(t.innerPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readLimited(f)
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxSourceSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxSourceSize {
		return nil, fmt.Errorf("file larger than %d bytes", maxSourceSize)
	}
	return data, nil
}

// fingerprintTask reads and fingerprints one task.
func fingerprintTask(ctx context.Context, t Task) (*models.WFPData, error) {
	data, err := readSource(ctx, t)
	if err != nil {
		return nil, err
	}
	if t.class == classMD5Only {
		return wfp.MD5Only(t.Name(), data), nil
	}
	return wfp.Fingerprint(t.Name(), data), nil
}
