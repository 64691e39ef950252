package driver

import "github.com/natura-rpa/gsp-dispatch/internal/models"

// stepProgress сопоставляет каждому тегу шага монотонно неубывающий
// процент для дашбордов оператора. Неизвестные теги сохраняют предыдущий
// процент (см. Progress).
var stepProgress = map[models.StepTag]int{
	models.StepStarting:                 0,
	models.StepPreflight:                5,
	models.StepLogin:                    15,
	models.StepLoginOK:                  15,
	models.StepImpersonation:            25,
	models.StepConsultoraSelected:       25,
	models.StepSearch:                   35,
	models.StepConfirm:                  45,
	models.StepCycleSelection:           45,
	models.StepCycleSelected:            45,
	models.StepExcelGeneration:          50,
	models.StepFileGeneration:           52,
	models.StepNavigateToCartAdaptively: 60,
	models.StepCartOpen:                 60,
	models.StepCartCleanup:              70,
	models.StepUploadOrderFile:          85,
	models.StepProductsAdded:            85,
	models.StepUploadValidation:         92,
	models.StepCompleted:                100,
}

// Progress — один колбэк прогресса, транслируемый воркером в
// queue.ReportProgress.
type Progress struct {
	Step       models.StepTag
	Message    string
	PercentPct int
}

// progressTracker хранит последний известный процент, чтобы неизвестные
// теги (не встречающиеся в stepProgress) никогда не уменьшали показанное
// значение.
type progressTracker struct {
	lastPct int
}

func (t *progressTracker) next(step models.StepTag, message string) Progress {
	if pct, ok := stepProgress[step]; ok {
		t.lastPct = pct
	}
	return Progress{Step: step, Message: message, PercentPct: t.lastPct}
}
