package export

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/fbrundu/batchmast/de"
)

func parseTable(t *testing.T, csv string) *de.Table {
	t.Helper()
	tbl, err := de.Parse(strings.NewReader(csv))
	require.NoError(t, err)
	return tbl
}

func TestWorkbook(t *testing.T) {
	tables := map[string]*de.Table{
		"t1": parseTable(t, ",condA_coef,condA_fdr\ng1,1.5,0.01\ng2,,0.5\n"),
		"t2": parseTable(t, ",condA_coef,condA_fdr\ng3,2.0,0.001\n"),
	}

	path := filepath.Join(t.TempDir(), "de.xlsx")
	require.NoError(t, Workbook(path, tables))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"t1", "t2"}, f.GetSheetList())

	cell := func(sheet, ref string) string {
		v, err := f.GetCellValue(sheet, ref)
		require.NoError(t, err)
		return v
	}

	assert.Equal(t, "condA_coef", cell("t1", "B1"))
	assert.Equal(t, "condA_fdr", cell("t1", "C1"))
	assert.Equal(t, "g1", cell("t1", "A2"))
	assert.Equal(t, "1.5", cell("t1", "B2"))
	assert.Equal(t, "0.01", cell("t1", "C2"))

	// empty field parsed as NaN stays blank
	assert.Equal(t, "g2", cell("t1", "A3"))
	assert.Equal(t, "", cell("t1", "B3"))
	assert.Equal(t, "0.5", cell("t1", "C3"))

	assert.Equal(t, "g3", cell("t2", "A2"))
	assert.Equal(t, "2", cell("t2", "B2"))
}

func TestTopWorkbook(t *testing.T) {
	top := map[string]map[string][]string{
		"Sheet0": {
			"condA": {"g3", "g1"},
			"condB": {"g2"},
		},
	}

	path := filepath.Join(t.TempDir(), "de.top.xlsx")
	require.NoError(t, TopWorkbook(path, top))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Sheet0"}, f.GetSheetList())

	cell := func(ref string) string {
		v, err := f.GetCellValue("Sheet0", ref)
		require.NoError(t, err)
		return v
	}

	assert.Equal(t, "condA", cell("A1"))
	assert.Equal(t, "condB", cell("B1"))
	assert.Equal(t, "g3", cell("A2"))
	assert.Equal(t, "g1", cell("A3"))
	assert.Equal(t, "g2", cell("B2"))
	assert.Equal(t, "", cell("B3"))
}

func TestWrite(t *testing.T) {
	tables := map[string]*de.Table{
		"Sheet0": parseTable(t, ",condA_coef,condA_fdr\ng1,1.5,0.01\n"),
	}
	top := map[string]map[string][]string{
		"Sheet0": {"condA": {"g1"}},
	}

	base := filepath.Join(t.TempDir(), "out")
	require.NoError(t, Write(base, tables, top))

	assert.FileExists(t, base+".xlsx")
	assert.FileExists(t, base+".top.xlsx")
}

func TestWriteNoTop(t *testing.T) {
	tables := map[string]*de.Table{
		"Sheet0": parseTable(t, ",condA_coef,condA_fdr\ng1,1.5,0.01\n"),
	}

	base := filepath.Join(t.TempDir(), "out")
	require.NoError(t, Write(base, tables, nil))

	assert.FileExists(t, base+".xlsx")
	assert.NoFileExists(t, base+".top.xlsx")
}
