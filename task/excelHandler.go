package task

import (
	"fmt"
	"sync"

	"github.com/charlesren/ylog"
	"github.com/xuri/excelize/v2"
)

const excelSheet = "Results"

var excelHeader = []interface{}{"Run", "Host", "Name", "Platform", "Task", "Success", "Changed", "Duration(s)", "Error", "Output"}

// ExcelHandler 把结果事件追加到工作簿中，Close时保存
type ExcelHandler struct {
	filename string
	file     *excelize.File
	row      int
	mu       sync.Mutex
}

func NewExcelHandler(filename string) (*ExcelHandler, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", excelSheet); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.SetSheetRow(excelSheet, "A1", &excelHeader); err != nil {
		f.Close()
		return nil, err
	}
	return &ExcelHandler{filename: filename, file: f, row: 1}, nil
}

func (h *ExcelHandler) HandleResult(events []ResultEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, event := range events {
		h.row++
		cell, err := excelize.CoordinatesToCellName(1, h.row)
		if err != nil {
			return err
		}
		row := []interface{}{
			event.RunID,
			event.Host,
			event.Name,
			event.Platform,
			event.TaskType,
			event.Success,
			event.Changed,
			event.Duration.Seconds(),
			event.Error,
			event.Output,
		}
		if err := h.file.SetSheetRow(excelSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", h.row, err)
		}
	}
	return nil
}

// Rows 已写入的结果行数
func (h *ExcelHandler) Rows() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.row - 1
}

// Close 保存工作簿
func (h *ExcelHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.file.Close()

	if err := h.file.SaveAs(h.filename); err != nil {
		return fmt.Errorf("save report %s: %w", h.filename, err)
	}
	ylog.Infof("excel_handler", "saved %d results to %s", h.row-1, h.filename)
	return nil
}
