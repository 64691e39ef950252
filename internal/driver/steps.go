package driver

import (
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/natura-rpa/gsp-dispatch/internal/models"
)

const loginReadyTimeout = 60 * time.Second

// login переходит на настроенный URL, выбирает режим входа по коду,
// заполняет учетные данные и подтверждает. Повторяет до 3 раз при
// временных ошибках навигации.
func (r *run) login() error {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if _, err := r.page.Goto(r.driver.gspCfg.LoginURL, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		}); err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return newLoginError("login", r.captureScreenshot("login"), fmt.Errorf("can't navigate to login page after 3 attempts: %v", lastErr))
	}

	modeSelect, err := resolveFirst(r.page, StepSelectors{
		Name: "login_mode",
		Strategies: []Locator{
			{CSS: "[data-testid=login-mode-select]"},
			{Role: roleCombobox("Modo de acceso")},
			{CSS: "select#loginMode"},
		},
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return newLoginError("login", r.captureScreenshot("login"), fmt.Errorf("can't find login mode selector: %v", err))
	}
	if err := modeSelect.SelectOption(playwright.SelectOptionValues{Labels: playwright.StringSlice("Código")}); err != nil {
		return newLoginError("login", r.captureScreenshot("login"), fmt.Errorf("can't select code login mode: %v", err))
	}

	codeInput, err := resolveFirst(r.page, StepSelectors{
		Strategies: []Locator{
			{CSS: "[data-testid=login-user-code]"},
			{CSS: "input#userCode"},
		},
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return newLoginError("login", r.captureScreenshot("login"), fmt.Errorf("can't find user code field: %v", err))
	}
	if err := codeInput.Fill(r.driver.gspCfg.UserCode); err != nil {
		return newLoginError("login", r.captureScreenshot("login"), fmt.Errorf("can't fill user code: %v", err))
	}

	passInput, err := resolveFirst(r.page, StepSelectors{
		Strategies: []Locator{
			{CSS: "[data-testid=login-password]"},
			{CSS: "input[type=password]"},
		},
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return newLoginError("login", r.captureScreenshot("login"), fmt.Errorf("can't find password field: %v", err))
	}
	if err := passInput.Fill(r.driver.gspCfg.Password); err != nil {
		return newLoginError("login", r.captureScreenshot("login"), fmt.Errorf("can't fill password: %v", err))
	}

	submit, err := resolveFirst(r.page, StepSelectors{
		Strategies: []Locator{
			{CSS: "[data-testid=login-submit]"},
			{Role: roleButton("Ingresar")},
			{CSS: "button[type=submit]"},
		},
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return newLoginError("login", r.captureScreenshot("login"), fmt.Errorf("can't find submit button: %v", err))
	}
	if err := submit.Click(); err != nil {
		return newLoginError("login", r.captureScreenshot("login"), fmt.Errorf("can't click submit: %v", err))
	}

	if _, err := resolveFirst(r.page, StepSelectors{
		Strategies: []Locator{
			{CSS: "[data-testid=impersonation-radio-label]"},
			{Text: "otra consultora"},
		},
		Timeout: loginReadyTimeout,
	}); err != nil {
		return newLoginError("login", r.captureScreenshot("login"), fmt.Errorf("post-login readiness timed out: %v", err))
	}

	return nil
}

// selectOtraConsultora кликает "por otra consultora", затем подтверждает,
// если кнопка присутствует, и ждет появления поля кода консультора.
func (r *run) selectOtraConsultora() error {
	radio, err := resolveFirst(r.page, StepSelectors{
		Strategies: []Locator{
			{CSS: "[data-testid=impersonation-radio]"},
			{Role: roleRadio("otra consultora")},
			{Text: "otra consultora"},
		},
		Timeout: 15 * time.Second,
	})
	if err != nil {
		return newConsultoraSearchError("impersonation", r.captureScreenshot("impersonation"), fmt.Errorf("can't find impersonation radio: %v", err))
	}
	if err := radio.Click(); err != nil {
		return newConsultoraSearchError("impersonation", r.captureScreenshot("impersonation"), fmt.Errorf("can't click impersonation radio: %v", err))
	}

	if accept, err := resolveFirst(r.page, StepSelectors{
		Strategies: []Locator{
			{CSS: "[data-testid=impersonation-accept]"},
			{Role: roleButton("Aceptar")},
		},
		Timeout: 5 * time.Second,
	}); err == nil {
		_ = accept.Click()
	}

	if _, err := resolveFirst(r.page, StepSelectors{
		Strategies: []Locator{
			{CSS: "[data-testid=consultora-code-input]"},
			{CSS: "input#consultoraCode"},
		},
		Timeout: 15 * time.Second,
	}); err != nil {
		return newConsultoraSearchError("impersonation", r.captureScreenshot("impersonation"), fmt.Errorf("consultora code input never appeared: %v", err))
	}

	return nil
}

// searchConsultora заполняет код консультора и запускает поиск.
func (r *run) searchConsultora(code string) error {
	input, err := resolveFirst(r.page, StepSelectors{
		Strategies: []Locator{
			{CSS: "[data-testid=consultora-code-input]"},
			{CSS: "input#consultoraCode"},
		},
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return newConsultoraSearchError("search_consultora", r.captureScreenshot("search_consultora"), fmt.Errorf("can't find consultora input: %v", err))
	}
	if err := input.Fill(code); err != nil {
		return newConsultoraSearchError("search_consultora", r.captureScreenshot("search_consultora"), fmt.Errorf("can't fill consultora code: %v", err))
	}

	button, err := resolveFirst(r.page, StepSelectors{
		Strategies: []Locator{
			{CSS: "[data-testid=consultora-search-button]"},
			{Role: roleButton("Buscar")},
			{CSS: "button.search-consultora"},
		},
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return newConsultoraSearchError("search_consultora", r.captureScreenshot("search_consultora"), fmt.Errorf("can't find search button: %v", err))
	}
	if err := button.Click(); err != nil {
		return newConsultoraSearchError("search_consultora", r.captureScreenshot("search_consultora"), fmt.Errorf("can't click search button: %v", err))
	}

	return nil
}

// confirmConsultora дожидается и кликает кнопку подтверждения.
func (r *run) confirmConsultora() error {
	button, err := resolveFirst(r.page, StepSelectors{
		Strategies: []Locator{
			{CSS: "[data-testid=consultora-confirm-button]"},
			{Role: roleButton("Confirmar")},
		},
		Timeout: 15 * time.Second,
	})
	if err != nil {
		return newConsultoraSearchError("confirm_consultora", r.captureScreenshot("confirm_consultora"), fmt.Errorf("can't find confirm button: %v", err))
	}
	if err := button.Click(); err != nil {
		return newConsultoraSearchError("confirm_consultora", r.captureScreenshot("confirm_consultora"), fmt.Errorf("can't click confirm button: %v", err))
	}

	return nil
}

// selectCycle дожидается группы радиокнопок цикла, выбирает первую
// (детерминированный выбор при прочих равных: порядок DOM) и подтверждает.
func (r *run) selectCycle() error {
	group, err := resolveFirst(r.page, StepSelectors{
		Strategies: []Locator{
			{CSS: "[data-testid=cycle-radio-group] input[type=radio]"},
			{Role: roleRadio("")},
		},
		Timeout: 15 * time.Second,
	})
	if err != nil {
		return newCycleSelectionError("select_cycle", r.captureScreenshot("select_cycle"), fmt.Errorf("cycle radio group not present: %v", err))
	}

	first := group.First()
	if err := first.Check(); err != nil {
		return newCycleSelectionError("select_cycle", r.captureScreenshot("select_cycle"), fmt.Errorf("can't select first cycle radio: %v", err))
	}

	accept, err := resolveFirst(r.page, StepSelectors{
		Strategies: []Locator{
			{CSS: "[data-testid=cycle-accept-button]"},
			{Role: roleButton("Aceptar")},
		},
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return newCycleSelectionError("select_cycle", r.captureScreenshot("select_cycle"), fmt.Errorf("can't find cycle accept button: %v", err))
	}
	if err := accept.Click(); err != nil {
		return newCycleSelectionError("select_cycle", r.captureScreenshot("select_cycle"), fmt.Errorf("can't accept cycle selection: %v", err))
	}

	return nil
}

// cartRow — существующая строка корзины, перечисленная перед загрузкой
// нового заказа.
type cartRow struct {
	Code     string
	Name     string
	Quantity string
}

// cartCleanup перечисляет существующие строки корзины и очищает их:
// предпочитает одну кнопку "vaciar carrito"; если ее нет, кликает кнопку
// корзины по каждой строке, дожидаясь toast об успехе после каждой.
func (r *run) cartCleanup() error {
	rows, err := r.enumerateCartRows()
	if err != nil {
		return newCartError("cart_cleanup", r.captureScreenshot("cart_cleanup"), err)
	}
	if len(rows) == 0 {
		return nil
	}

	details := make(map[string]any, len(rows))
	for i, row := range rows {
		details[fmt.Sprintf("row_%d", i)] = fmt.Sprintf("%s (%s) x%s", row.Code, row.Name, row.Quantity)
	}
	r.stepLog = append(r.stepLog, StepLogEntry{
		Level:     models.LogInfo,
		Step:      "cart_cleanup",
		Message:   fmt.Sprintf("found %d existing cart rows", len(rows)),
		Details:   details,
		Timestamp: time.Now().UTC(),
	})

	if empty, err := resolveFirst(r.page, StepSelectors{
		Strategies: []Locator{
			{CSS: "[data-testid=cart-empty-button]"},
			{Role: roleButton("Vaciar carrito")},
		},
		Timeout: 5 * time.Second,
	}); err == nil {
		if err := empty.Click(); err != nil {
			return newCartError("cart_cleanup", r.captureScreenshot("cart_cleanup"), fmt.Errorf("can't click empty cart button: %v", err))
		}
		return nil
	}

	trash := r.page.Locator("[data-testid=cart-row-trash]")
	count, err := trash.Count()
	if err != nil {
		return newCartError("cart_cleanup", r.captureScreenshot("cart_cleanup"), fmt.Errorf("can't count trash buttons: %v", err))
	}

	for i := 0; i < count; i++ {
		if err := trash.First().Click(); err != nil {
			return newCartError("cart_cleanup", r.captureScreenshot("cart_cleanup"), fmt.Errorf("can't click row trash button: %v", err))
		}
		if _, err := resolveFirst(r.page, StepSelectors{
			Strategies: []Locator{{CSS: "[data-testid=toast-success]"}},
			Timeout:    10 * time.Second,
		}); err != nil {
			return newCartError("cart_cleanup", r.captureScreenshot("cart_cleanup"), fmt.Errorf("removal toast never appeared: %v", err))
		}
	}

	return nil
}

func (r *run) enumerateCartRows() ([]cartRow, error) {
	rows := r.page.Locator("[data-testid=cart-row]")
	count, err := rows.Count()
	if err != nil {
		return nil, fmt.Errorf("can't count cart rows: %v", err)
	}

	out := make([]cartRow, 0, count)
	for i := 0; i < count; i++ {
		row := rows.Nth(i)
		code, _ := row.Locator("[data-testid=cart-row-code]").InnerText()
		name, _ := row.Locator("[data-testid=cart-row-name]").InnerText()
		qty, _ := row.Locator("[data-testid=cart-row-quantity]").InnerText()
		out = append(out, cartRow{
			Code:     strings.TrimSpace(code),
			Name:     strings.TrimSpace(name),
			Quantity: strings.TrimSpace(qty),
		})
	}

	return out, nil
}

// uploadOrderFile кликает кнопку импорта, если она есть, дожидается поля
// файла, устанавливает его, ждет обработки сервером и проверяет
// модальные окна после загрузки.
func (r *run) uploadOrderFile(path string) ([]StepLogEntry, error) {
	if importBtn, err := resolveFirst(r.page, StepSelectors{
		Strategies: []Locator{
			{CSS: "[data-testid=cart-import-button]"},
			{Role: roleButton("Importar")},
		},
		Timeout: 5 * time.Second,
	}); err == nil {
		_ = importBtn.Click()
	}

	fileInput, err := resolveFirst(r.page, StepSelectors{
		Strategies: []Locator{
			{CSS: "[data-testid=cart-file-input]"},
			{CSS: "input[type=file]"},
		},
		Timeout: 60 * time.Second,
	})
	if err != nil {
		return nil, newNavigationError("upload_order_file", r.captureScreenshot("upload_order_file"), fmt.Errorf("file input never attached: %v", err))
	}
	if err := fileInput.SetInputFiles([]string{path}); err != nil {
		return nil, newNavigationError("upload_order_file", r.captureScreenshot("upload_order_file"), fmt.Errorf("can't set upload file: %v", err))
	}

	r.page.WaitForTimeout(15000)

	return r.validatePostUpload(), nil
}

// validatePostUpload проверяет два известных модальных окна валидации с
// короткими таймаутами; любое из них оставляет success=true, потому что
// файл уже дошел до сервера.
func (r *run) validatePostUpload() []StepLogEntry {
	var warnings []StepLogEntry

	if modal, err := resolveFirst(r.page, StepSelectors{
		Strategies: []Locator{{Text: "No encontramos los códigos"}},
		Timeout:    5 * time.Second,
	}); err == nil {
		body, _ := modal.InnerText()
		warnings = append(warnings, StepLogEntry{
			Level:     models.LogWarning,
			Step:      "upload_validation",
			Message:   "portal rejected one or more product codes",
			Details:   map[string]any{"modal_text": body},
			Timestamp: time.Now().UTC(),
		})
		r.closeModal()
	}

	if _, err := resolveFirst(r.page, StepSelectors{
		Strategies: []Locator{{Text: "detectamos inconsistencias"}},
		Timeout:    5 * time.Second,
	}); err == nil {
		warnings = append(warnings, StepLogEntry{
			Level:     models.LogWarning,
			Step:      "upload_validation",
			Message:   "portal detected inconsistencies in the upload",
			Timestamp: time.Now().UTC(),
		})
		r.closeModal()
	}

	return warnings
}

func (r *run) closeModal() {
	if closeBtn, err := resolveFirst(r.page, StepSelectors{
		Strategies: []Locator{
			{CSS: "[data-testid=modal-close]"},
			{Role: roleButton("Cerrar")},
		},
		Timeout: 3 * time.Second,
	}); err == nil {
		_ = closeBtn.Click()
	}
}

func roleButton(name string) RoleLocator {
	return RoleLocator{Role: playwright.AriaRoleButton, Name: name}
}

func roleRadio(name string) RoleLocator {
	return RoleLocator{Role: playwright.AriaRoleRadio, Name: name}
}

func roleCombobox(name string) RoleLocator {
	return RoleLocator{Role: playwright.AriaRoleCombobox, Name: name}
}
