// Package export writes collected results to Excel workbooks, one
// sheet per group: the full statistics tables in <base>.xlsx and the
// ranked top gene lists in <base>.top.xlsx.
package export

import (
	"fmt"
	"math"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/fbrundu/batchmast/de"
)

// Write produces <base>.xlsx from the tables and, when top is not nil,
// <base>.top.xlsx from the ranked gene lists.
func Write(base string, tables map[string]*de.Table, top map[string]map[string][]string) error {
	if err := Workbook(base+".xlsx", tables); err != nil {
		return err
	}
	if top != nil {
		return TopWorkbook(base+".top.xlsx", top)
	}
	return nil
}

// Workbook writes the full statistics tables, one sheet per group.
func Workbook(path string, tables map[string]*de.Table) error {
	f := excelize.NewFile()
	defer f.Close()

	for _, group := range sortedKeys(tables) {
		if err := addSheet(f, group); err != nil {
			return err
		}
		tbl := tables[group]

		// (1,1) stays empty, it is the gene index header
		for j, col := range tbl.Columns {
			if err := setCell(f, group, j+2, 1, col); err != nil {
				return err
			}
		}
		for i, gene := range tbl.Genes {
			if err := setCell(f, group, 1, i+2, gene); err != nil {
				return err
			}
			for j, col := range tbl.Columns {
				v, ok := tbl.Value(i, col)
				if !ok || math.IsNaN(v) {
					continue
				}
				if err := setCell(f, group, j+2, i+2, v); err != nil {
					return err
				}
			}
		}
	}

	return f.SaveAs(path)
}

// TopWorkbook writes the ranked gene lists, one sheet per group, one
// column per contrast. Shorter lists leave their trailing cells empty.
func TopWorkbook(path string, top map[string]map[string][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	for _, group := range sortedKeys(top) {
		if err := addSheet(f, group); err != nil {
			return err
		}

		contrasts := sortedKeys(top[group])
		for c, contrast := range contrasts {
			if err := setCell(f, group, c+1, 1, contrast); err != nil {
				return err
			}
			for i, gene := range top[group][contrast] {
				if err := setCell(f, group, c+1, i+2, gene); err != nil {
					return err
				}
			}
		}
	}

	return f.SaveAs(path)
}

// addSheet renames the default sheet on first use, creates after that.
func addSheet(f *excelize.File, name string) error {
	if len(f.GetSheetList()) == 1 && f.GetSheetList()[0] == "Sheet1" && name != "Sheet1" {
		return f.SetSheetName("Sheet1", name)
	}
	_, err := f.NewSheet(name)
	return err
}

func setCell(f *excelize.File, sheet string, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("cell (%d,%d): %w", col, row, err)
	}
	return f.SetCellValue(sheet, cell, value)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
