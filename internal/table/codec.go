package table

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/common"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/service"
)

// CodecFor picks the codec for a table file from its extension.
func CodecFor(path string, mapping Mapping) (service.TableCodec, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".csv":
		return NewCSVCodec(mapping), nil
	case ".xlsx":
		return NewXLSXCodec(mapping), nil
	default:
		return nil, fmt.Errorf("%w: unsupported extension %q", common.ErrTableFormat, ext)
	}
}
