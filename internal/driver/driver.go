// Package driver управляет одним браузерным сеансом Playwright и
// реализует фиксированный конвейер шагов, который проводит один заказ
// через портал консультанта: логин, выбор консультора, поиск, подтверждение,
// выбор цикла, генерация файла загрузки, адаптивный переход в корзину,
// загрузка файла и разбор результата. Единственный публичный метод для
// вызывающего кода — ExecuteOrder.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/natura-rpa/gsp-dispatch/internal/config"
	"github.com/natura-rpa/gsp-dispatch/internal/models"
	"github.com/natura-rpa/gsp-dispatch/lib/logger/sl"
)

// adaptiveLoopMaxIterations ограничивает адаптивный переход в корзину.
const adaptiveLoopMaxIterations = 14

// ProgressFunc получает один колбэк прогресса на каждой границе шага.
type ProgressFunc func(Progress)

// ProductOutcome — судьба одной товарной позиции по возврату драйвера.
type ProductOutcome struct {
	ProductCode string
	Quantity    int
	Error       string
}

// StepLogEntry — одна запись, которую worker впоследствии персистит как
// models.OrderLog, сохраняя порядок.
type StepLogEntry struct {
	Level          models.LogLevel
	Step           string
	Message        string
	Details        map[string]any
	ScreenshotPath string
	Timestamp      time.Time
}

// OrderResult — итог одного вызова ExecuteOrder.
type OrderResult struct {
	Success         bool
	Error           string
	ErrorStep       string
	ScreenshotPath  string
	DurationSeconds float64
	ProductsAdded   []ProductOutcome
	ProductsFailed  []ProductOutcome
	StepLog         []StepLogEntry
	CurrentStep     models.StepTag
}

// Driver владеет одним экземпляром Playwright и фабрикой браузеров; сам
// он не хранит состояние между заказами — на каждый ExecuteOrder
// создается свежий контекст браузера без общих cookie или storage.
type Driver struct {
	pw         *playwright.Playwright
	browser    playwright.Browser
	cfg        config.Playwright
	gspCfg     config.GSP
	proxyCfg   config.Proxy
	screenshot config.Screenshot
	log        *slog.Logger
}

// Launch запускает общий для процесса движок Playwright/Chromium.
// Браузер переживает множество ExecuteOrder; только контекст и страница
// создаются и уничтожаются заново на каждый заказ.
func Launch(cfg config.Playwright, gspCfg config.GSP, proxyCfg config.Proxy, screenshot config.Screenshot, log *slog.Logger) (*Driver, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("can't start playwright: %v", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		SlowMo:   playwright.Float(float64(cfg.SlowMo.Milliseconds())),
	}
	if proxyCfg.HTTPProxy != "" {
		launchOpts.Proxy = &playwright.Proxy{Server: proxyCfg.HTTPProxy}
	} else if proxyCfg.HTTPSProxy != "" {
		launchOpts.Proxy = &playwright.Proxy{Server: proxyCfg.HTTPSProxy}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("can't launch chromium: %v", err)
	}

	return &Driver{
		pw:         pw,
		browser:    browser,
		cfg:        cfg,
		gspCfg:     gspCfg,
		proxyCfg:   proxyCfg,
		screenshot: screenshot,
		log:        log,
	}, nil
}

// Close освобождает браузер и останавливает Playwright. Вызывается один
// раз на процесс воркера, не на заказ.
func (d *Driver) Close() error {
	if err := d.browser.Close(); err != nil {
		return fmt.Errorf("can't close browser: %v", err)
	}
	return d.pw.Stop()
}

// run — один заказ в изолированной сессии браузера: свежие контекст и
// страница, никаких cookie или storage, общих между вызовами.
type run struct {
	driver  *Driver
	ctx     playwright.BrowserContext
	page    playwright.Page
	tracker progressTracker
	stepLog []StepLogEntry
	onProg  ProgressFunc
	orderID int64
}

// ExecuteOrder прогоняет полный конвейер для одного заказа консультора
// со списком товаров. onProgress вызывается на каждой границе шага;
// может быть nil.
func (d *Driver) ExecuteOrder(ctx context.Context, orderID int64, consultoraCode string, products []models.OrderProduct, onProgress ProgressFunc) OrderResult {
	started := time.Now()
	if onProgress == nil {
		onProgress = func(Progress) {}
	}

	r, err := d.newRun(orderID, onProgress)
	if err != nil {
		return d.fail(started, models.StepPreflight, "", err, nil)
	}
	defer r.teardown()

	result := r.execute(ctx, consultoraCode, products)
	result.DurationSeconds = time.Since(started).Seconds()
	result.StepLog = r.stepLog

	return result
}

func (d *Driver) newRun(orderID int64, onProgress ProgressFunc) (*run, error) {
	ctxOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: 1366, Height: 768},
		Locale:   playwright.String("es-CL"),
		TimezoneId: playwright.String("America/Santiago"),
		UserAgent: playwright.String(
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
				"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		),
		IgnoreHttpsErrors: playwright.Bool(true),
		ExtraHttpHeaders: map[string]string{
			"Accept-Language": "es-CL,es;q=0.9",
		},
	}

	bctx, err := d.browser.NewContext(ctxOpts)
	if err != nil {
		return nil, fmt.Errorf("can't create browser context: %v", err)
	}

	// Скрывает флаг автоматизации до загрузки любого скрипта страницы,
	// единственный init script, общий для контекста.
	if err := bctx.AddInitScript(playwright.Script{
		Content: playwright.String(`Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`),
	}); err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("can't add init script: %v", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("can't open page: %v", err)
	}
	page.SetDefaultTimeout(float64(d.cfg.Timeout.Milliseconds()))

	return &run{driver: d, ctx: bctx, page: page, onProg: onProgress, orderID: orderID}, nil
}

func (r *run) teardown() {
	if err := r.ctx.Close(); err != nil {
		r.driver.log.Warn("can't close browser context", sl.Err(err), slog.Int64("order_id", r.orderID))
	}
}

// execute прогоняет фиксированную последовательность шагов, останавливаясь
// на первой ошибке и собирая итоговый OrderResult.
func (r *run) execute(ctx context.Context, consultoraCode string, products []models.OrderProduct) OrderResult {
	r.progress(models.StepPreflight, "preparing browser session")

	if ctx.Err() != nil {
		return r.failResult(models.StepPreflight, ctx.Err())
	}

	if err := r.login(); err != nil {
		return r.failResult(models.StepLogin, err)
	}
	r.progress(models.StepLoginOK, "authenticated")

	if err := r.selectOtraConsultora(); err != nil {
		return r.failResult(models.StepImpersonation, err)
	}
	r.progress(models.StepConsultoraSelected, "impersonation mode active")

	if err := r.searchConsultora(consultoraCode); err != nil {
		return r.failResult(models.StepSearch, err)
	}
	r.progress(models.StepSearch, fmt.Sprintf("searched consultora %s", consultoraCode))

	if err := r.confirmConsultora(); err != nil {
		return r.failResult(models.StepConfirm, err)
	}
	r.progress(models.StepConfirm, "consultora confirmed")

	if err := r.selectCycle(); err != nil {
		return r.failResult(models.StepCycleSelection, err)
	}
	r.progress(models.StepCycleSelected, "cycle selected")

	uploadFile, cleanup, err := r.generateOrderExcel(products)
	if err != nil {
		return r.failResult(models.StepExcelGeneration, err)
	}
	defer cleanup()
	r.progress(models.StepFileGeneration, "upload spreadsheet generated")

	if err := r.navigateToCartAdaptively(); err != nil {
		return r.failResult(models.StepNavigateToCartAdaptively, err)
	}
	r.progress(models.StepCartOpen, "cart reached")

	if err := r.cartCleanup(); err != nil {
		return r.failResult(models.StepCartCleanup, err)
	}
	r.progress(models.StepCartCleanup, "cart cleaned")

	warnings, err := r.uploadOrderFile(uploadFile)
	if err != nil {
		return r.failResult(models.StepUploadOrderFile, err)
	}
	r.progress(models.StepUploadValidation, "upload validated")

	result := r.assembleResult(products, warnings)
	r.progress(models.StepCompleted, "order completed")

	return result
}

func (r *run) progress(step models.StepTag, message string) {
	p := r.tracker.next(step, message)
	r.stepLog = append(r.stepLog, StepLogEntry{
		Level:     models.LogInfo,
		Step:      string(step),
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
	r.onProg(p)
}

func (r *run) failResult(step models.StepTag, err error) OrderResult {
	screenshot := r.captureScreenshot(string(step))

	var (
		errMsg      = err.Error()
		productCode string
	)
	var padErr *ProductAddError
	if ok := asProductAddError(err, &padErr); ok {
		productCode = padErr.ProductCode
	}

	r.stepLog = append(r.stepLog, StepLogEntry{
		Level:          models.LogError,
		Step:           string(step),
		Message:        errMsg,
		ScreenshotPath: screenshot,
		Timestamp:      time.Now().UTC(),
	})

	result := OrderResult{
		Success:        false,
		Error:          errMsg,
		ErrorStep:      string(step),
		ScreenshotPath: screenshot,
		CurrentStep:    step,
	}
	if productCode != "" {
		result.ProductsFailed = []ProductOutcome{{ProductCode: productCode, Error: errMsg}}
	}
	return result
}

func asProductAddError(err error, target **ProductAddError) bool {
	pae, ok := err.(*ProductAddError)
	if ok {
		*target = pae
	}
	return ok
}

func (d *Driver) fail(started time.Time, step models.StepTag, screenshot string, err error, stepLog []StepLogEntry) OrderResult {
	return OrderResult{
		Success:         false,
		Error:           err.Error(),
		ErrorStep:       string(step),
		ScreenshotPath:  screenshot,
		DurationSeconds: time.Since(started).Seconds(),
		StepLog:         stepLog,
		CurrentStep:     step,
	}
}

func (r *run) assembleResult(products []models.OrderProduct, warnings []StepLogEntry) OrderResult {
	r.stepLog = append(r.stepLog, warnings...)

	added := make([]ProductOutcome, 0, len(products))
	for _, p := range products {
		added = append(added, ProductOutcome{ProductCode: p.ProductCode, Quantity: p.Quantity})
	}

	return OrderResult{
		Success:       true,
		ProductsAdded: added,
		CurrentStep:   models.StepCompleted,
	}
}

func (r *run) captureScreenshot(step string) string {
	if !r.driver.screenshot.OnError {
		return ""
	}

	path := fmt.Sprintf("%s/%d-%s-%d.png", r.driver.screenshot.Dir, r.orderID, step, time.Now().UnixNano())
	if _, err := r.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	}); err != nil {
		r.driver.log.Warn("can't capture screenshot", sl.Err(err), slog.String("step", step))
		return ""
	}
	return path
}
