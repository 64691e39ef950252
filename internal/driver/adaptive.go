package driver

import (
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

// adaptivePopup — один из четырех диалогов, которые портал может вставить
// между кликом подтверждения цикла и попаданием на URL корзины, в
// недетерминированном порядке.
type adaptivePopup struct {
	name    string
	locator StepSelectors
	accept  StepSelectors
}

// adaptivePopups пробуются в этом порядке на каждой итерации: сначала
// надежные data-testid, затем role/text, generic в конце.
func adaptivePopups() []adaptivePopup {
	return []adaptivePopup{
		{
			name: "cycle_dialog",
			locator: StepSelectors{
				Strategies: []Locator{{CSS: "[data-testid=cycle-dialog]"}, {Text: "Selecciona tu ciclo"}},
				Timeout:    2 * time.Second,
			},
			accept: StepSelectors{
				Strategies: []Locator{{CSS: "[data-testid=cycle-dialog-accept]"}, {Role: roleButton("Aceptar")}},
				Timeout:    2 * time.Second,
			},
		},
		{
			name: "direct_sale_dialog",
			locator: StepSelectors{
				Strategies: []Locator{{CSS: "[data-testid=direct-sale-dialog]"}, {Text: "venta directa"}},
				Timeout:    2 * time.Second,
			},
			accept: StepSelectors{
				Strategies: []Locator{{CSS: "[data-testid=direct-sale-accept]"}, {Role: roleButton("Aceptar")}},
				Timeout:    2 * time.Second,
			},
		},
		{
			name: "listo_popup",
			locator: StepSelectors{
				Strategies: []Locator{{CSS: "[data-testid=listo-popup]"}, {Text: "LISTO"}},
				Timeout:    2 * time.Second,
			},
			accept: StepSelectors{
				Strategies: []Locator{{CSS: "[data-testid=listo-popup-accept]"}, {Role: roleButton("LISTO")}},
				Timeout:    2 * time.Second,
			},
		},
		{
			name: "recover_or_delete_dialog",
			locator: StepSelectors{
				Strategies: []Locator{{CSS: "[data-testid=recover-delete-dialog]"}, {Text: "pedido guardado"}},
				Timeout:    2 * time.Second,
			},
			accept: StepSelectors{
				Strategies: []Locator{{CSS: "[data-testid=recover-delete-accept]"}, {Role: roleButton("Eliminar")}},
				Timeout:    2 * time.Second,
			},
		},
	}
}

// navigateToCartAdaptively — единственный недетерминированный сегмент
// пайплайна. Крутится до adaptiveLoopMaxIterations итераций; единственный
// авторитетный признак попадания в корзину — наличие "/cart" в URL,
// проверки по элементам ненадежны, потому что виджет импорта может быть
// смонтирован заранее, а может и нет.
func (r *run) navigateToCartAdaptively() error {
	popups := adaptivePopups()

	for iteration := 1; iteration <= adaptiveLoopMaxIterations; iteration++ {
		r.page.WaitForTimeout(2500)

		if strings.Contains(r.page.URL(), "/cart") {
			return nil
		}

		resolvedPopup := false
		for _, popup := range popups {
			if _, err := resolveFirst(r.page, popup.locator); err != nil {
				continue
			}

			if accept, err := resolveFirst(r.page, popup.accept); err == nil {
				_ = accept.Click()
			}

			resolvedPopup = true
			break
		}
		if resolvedPopup {
			continue
		}

		gridVisible := false
		if _, err := resolveFirst(r.page, StepSelectors{
			Strategies: []Locator{{CSS: "[data-testid=product-grid-list]"}},
			Timeout:    1 * time.Second,
		}); err == nil {
			gridVisible = true
		}

		if gridVisible || iteration >= 3 {
			origin, err := r.evaluateOrigin()
			if err != nil {
				return newNavigationError("navigate_to_cart_adaptively", r.captureScreenshot("navigate_to_cart_adaptively"), err)
			}
			if _, err := r.page.Goto(origin+"/cart", playwright.PageGotoOptions{
				WaitUntil: playwright.WaitUntilStateLoad,
			}); err != nil {
				return newNavigationError("navigate_to_cart_adaptively", r.captureScreenshot("navigate_to_cart_adaptively"), fmt.Errorf("can't navigate directly to cart: %v", err))
			}
			r.page.WaitForTimeout(5000)
			if strings.Contains(r.page.URL(), "/cart") {
				return nil
			}
		}

		if iteration == 7 {
			if err := r.page.Reload(); err != nil {
				return newNavigationError("navigate_to_cart_adaptively", r.captureScreenshot("navigate_to_cart_adaptively"), fmt.Errorf("midpoint reload failed: %v", err))
			}
		}
	}

	return newNavigationError("navigate_to_cart_adaptively", r.captureScreenshot("navigate_to_cart_adaptively"),
		fmt.Errorf("cart not reached after %d iterations", adaptiveLoopMaxIterations))
}

func (r *run) evaluateOrigin() (string, error) {
	origin, err := r.page.Evaluate("() => window.location.origin")
	if err != nil {
		return "", fmt.Errorf("can't evaluate window origin: %v", err)
	}
	s, ok := origin.(string)
	if !ok {
		return "", fmt.Errorf("unexpected origin value type %T", origin)
	}
	return s, nil
}
