package source

import (
	"archive/zip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleTree() map[string]interface{} {
	return map[string]interface{}{
		"assemblyTemplates": map[string]interface{}{
			"GZ-1": map[string]interface{}{
				"name":        "steel column",
				"drawingName": "S-101",
				"totalLength": 6000,
				"totalWeight": 812.5,
				"totalArea":   14.2,
				"mainPart":    map[string]interface{}{"specification": "HW400x400", "material": "Q355B", "type": "COLUMN"},
			},
			"GL-1": map[string]interface{}{
				"name":     "beam without main part",
				"mainPart": map[string]interface{}{"specification": "H300x150", "material": "", "type": "BEAM"},
			},
		},
		"root": map[string]interface{}{
			"assemblies": []interface{}{
				map[string]interface{}{"assemblyId": "X1", "template": "GZ-1", "installPosition": "A-1", "installHeight": 10.0},
				map[string]interface{}{"assemblyId": "X2", "template": "GZ-1", "name": "corner column", "installHeight": 12.5},
				map[string]interface{}{"assemblyId": "X3", "template": "GL-1"},
				map[string]interface{}{"assemblyId": "X4", "template": "UNKNOWN"},
			},
		},
	}
}

func writeJSON(t *testing.T, path string, value interface{}) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	data, err := json.Marshal(value)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	out, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())
}
