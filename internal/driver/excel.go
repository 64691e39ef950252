package driver

import (
	"fmt"
	"os"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/natura-rpa/gsp-dispatch/internal/models"
)

// generateOrderExcel строит двухколоночную таблицу (CÓDIGO, QTDE),
// которую портал ожидает для массовой загрузки, записанную во временный
// файл, эксклюзивный для этой задачи. Файл удаляется по завершении
// независимо от результата.
func (r *run) generateOrderExcel(products []models.OrderProduct) (path string, cleanup func(), err error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const sheet = "Sheet1"
	if err := f.SetCellValue(sheet, "A1", "CÓDIGO"); err != nil {
		return "", nil, fmt.Errorf("can't write header: %v", err)
	}
	if err := f.SetCellValue(sheet, "B1", "QTDE"); err != nil {
		return "", nil, fmt.Errorf("can't write header: %v", err)
	}

	for i, p := range products {
		row := i + 2
		if err := f.SetCellValue(sheet, "A"+strconv.Itoa(row), p.ProductCode); err != nil {
			return "", nil, fmt.Errorf("can't write product code: %v", err)
		}
		if err := f.SetCellValue(sheet, "B"+strconv.Itoa(row), p.Quantity); err != nil {
			return "", nil, fmt.Errorf("can't write quantity: %v", err)
		}
	}

	tmp, err := os.CreateTemp("", fmt.Sprintf("order-%d-*.xlsx", r.orderID))
	if err != nil {
		return "", nil, fmt.Errorf("can't create temp file: %v", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()

	if err := f.SaveAs(tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", nil, fmt.Errorf("can't save upload spreadsheet: %v", err)
	}

	return tmpPath, func() { _ = os.Remove(tmpPath) }, nil
}
