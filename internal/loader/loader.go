// Package loader превращает загруженный пользователем файл (CSV или XLSX)
// в список заказов, ожидаемый Store.CreateBatch: строки с одинаковым
// consultora_code группируются в один заказ с несколькими продуктами.
package loader

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/natura-rpa/gsp-dispatch/internal/models"
)

const (
	colConsultoraCode = "consultora_code"
	colConsultoraName = "consultora_name"
	colProductCode    = "product_code"
	colQuantity       = "quantity"
)

var requiredColumns = []string{colConsultoraCode, colProductCode, colQuantity}

// row — одна уже нормализованная строка, до группировки по consultora.
type row struct {
	consultoraCode string
	consultoraName string
	productCode    string
	quantity       int
}

// LoadFile определяет формат по расширению имени файла (.xlsx/.xls идут
// через excelize, все остальное разбирается как CSV) и возвращает
// сгруппированные заказы, готовые для Store.CreateBatch.
func LoadFile(filename string, r io.Reader) ([]models.NewOrderInput, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	var records [][]string
	var err error

	switch ext {
	case ".xlsx", ".xls":
		records, err = readXLSX(r)
	default:
		records, err = readCSV(r)
	}
	if err != nil {
		return nil, err
	}

	return parseRecords(records)
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("can't parse csv: %v", err)
	}
	return records, nil
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("can't open spreadsheet: %v", err)
	}
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("can't read spreadsheet rows: %v", err)
	}
	return records, nil
}

// parseRecords нормализует заголовки (обрезка пробелов, нижний регистр,
// пробелы→подчеркивание), проверяет обязательные колонки и группирует
// строки по consultora_code в порядке первого появления.
func parseRecords(records [][]string) ([]models.NewOrderInput, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("file has no rows")
	}

	header := normalizeHeader(records[0])
	index, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	order := make([]string, 0)
	grouped := make(map[string]*models.NewOrderInput)

	for _, rec := range records[1:] {
		if isBlankRow(rec) {
			continue
		}

		parsed := parseRow(rec, index)
		if parsed.consultoraCode == "" {
			continue
		}

		existing, ok := grouped[parsed.consultoraCode]
		if !ok {
			existing = &models.NewOrderInput{
				ConsultoraCode: parsed.consultoraCode,
				ConsultoraName: parsed.consultoraName,
			}
			grouped[parsed.consultoraCode] = existing
			order = append(order, parsed.consultoraCode)
		} else if existing.ConsultoraName == "" && parsed.consultoraName != "" {
			existing.ConsultoraName = parsed.consultoraName
		}

		existing.Products = append(existing.Products, models.NewProductInput{
			ProductCode: parsed.productCode,
			Quantity:    parsed.quantity,
		})
	}

	orders := make([]models.NewOrderInput, 0, len(order))
	for _, code := range order {
		orders = append(orders, *grouped[code])
	}

	return orders, nil
}

func normalizeHeader(raw []string) []string {
	header := make([]string, len(raw))
	for i, h := range raw {
		h = strings.TrimSpace(strings.ToLower(h))
		header[i] = strings.ReplaceAll(h, " ", "_")
	}
	return header
}

func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[h] = i
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s (found: %s)", strings.Join(missing, ", "), strings.Join(header, ", "))
	}

	return index, nil
}

func parseRow(rec []string, index map[string]int) row {
	quantity := 1
	if idx, ok := index[colQuantity]; ok && idx < len(rec) {
		if q, err := strconv.Atoi(strings.TrimSpace(rec[idx])); err == nil && q > 0 {
			quantity = q
		}
	}

	name := ""
	if idx, ok := index[colConsultoraName]; ok && idx < len(rec) {
		name = strings.TrimSpace(rec[idx])
	}

	return row{
		consultoraCode: cellAt(rec, index, colConsultoraCode),
		consultoraName: name,
		productCode:    cellAt(rec, index, colProductCode),
		quantity:       quantity,
	}
}

func cellAt(rec []string, index map[string]int, col string) string {
	idx, ok := index[col]
	if !ok || idx >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[idx])
}

func isBlankRow(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
