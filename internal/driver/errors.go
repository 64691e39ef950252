package driver

import "fmt"

// StepError — базовая форма всех типизированных ошибок драйвера: каждая
// несет имя шага, на котором она произошла, и путь к скриншоту состояния
// страницы в момент сбоя (если включен config.Screenshot.OnError).
type StepError struct {
	Step           string
	ScreenshotPath string
	Err            error
}

func (e *StepError) Error() string {
	if e.ScreenshotPath != "" {
		return fmt.Sprintf("%s: %v (screenshot: %s)", e.Step, e.Err, e.ScreenshotPath)
	}
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// LoginError — аутентификация не удалась или страница логина недостижима.
type LoginError struct{ StepError }

// ConsultoraSearchError — сбой последовательности
// импersonation/search/confirm.
type ConsultoraSearchError struct{ StepError }

// CycleSelectionError — диалог выбора цикла отсутствует, пуст или
// не подтверждается.
type CycleSelectionError struct{ StepError }

// CartError — корзина не открылась или оказалась в невалидном состоянии.
type CartError struct{ StepError }

// ProductAddError — конкретный товар не удалось добавить; несет код
// товара отдельно от общего текста ошибки.
type ProductAddError struct {
	StepError
	ProductCode string
}

// NavigationError — обобщенный таймаут или неожиданное состояние
// страницы, включая исчерпание итераций адаптивного перехода в корзину.
type NavigationError struct{ StepError }

// SessionExpiredError — портал вернулся к состоянию, похожему на логин,
// посреди выполнения шага.
type SessionExpiredError struct{ StepError }

func newLoginError(step string, screenshot string, err error) *LoginError {
	return &LoginError{StepError{Step: step, ScreenshotPath: screenshot, Err: err}}
}

func newConsultoraSearchError(step string, screenshot string, err error) *ConsultoraSearchError {
	return &ConsultoraSearchError{StepError{Step: step, ScreenshotPath: screenshot, Err: err}}
}

func newCycleSelectionError(step string, screenshot string, err error) *CycleSelectionError {
	return &CycleSelectionError{StepError{Step: step, ScreenshotPath: screenshot, Err: err}}
}

func newCartError(step string, screenshot string, err error) *CartError {
	return &CartError{StepError{Step: step, ScreenshotPath: screenshot, Err: err}}
}

func newProductAddError(step, productCode, screenshot string, err error) *ProductAddError {
	return &ProductAddError{StepError{Step: step, ScreenshotPath: screenshot, Err: err}, productCode}
}

func newNavigationError(step string, screenshot string, err error) *NavigationError {
	return &NavigationError{StepError{Step: step, ScreenshotPath: screenshot, Err: err}}
}

func newSessionExpiredError(step string, screenshot string, err error) *SessionExpiredError {
	return &SessionExpiredError{StepError{Step: step, ScreenshotPath: screenshot, Err: err}}
}
