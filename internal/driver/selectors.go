package driver

import (
	"time"

	"github.com/playwright-community/playwright-go"
)

// RoleLocator — поиск по ARIA-роли с именем, доступным для чтения с экрана.
type RoleLocator struct {
	Role playwright.AriaRole
	Name string
}

// Locator — одна стратегия поиска элемента: CSS/data-testid, роль с
// именем, или произвольный текст. Ровно одно из полей задано.
type Locator struct {
	CSS  string
	Role RoleLocator
	Text string
}

// StepSelectors — упорядоченный список стратегий для одного логического
// элемента UI. Заменяет цепочку try/except динамического поиска на
// данные: первая стратегия, которая резолвится в пределах своего
// таймаута, побеждает. Явная структура вместо ad-hoc перебора делает
// список проверяемым в unit-тестах без браузера.
type StepSelectors struct {
	Name       string
	Strategies []Locator
	Timeout    time.Duration
}

// resolveFirst перебирает стратегии StepSelectors по порядку: data-testid
// первым, role/text вторым, generic CSS последним (порядок задает вызывающий
// код при построении списка). Возвращает первый локатор, видимый в пределах
// своего таймаута.
func resolveFirst(page playwright.Page, sel StepSelectors) (playwright.Locator, error) {
	perStrategy := sel.Timeout
	if len(sel.Strategies) > 1 {
		perStrategy = sel.Timeout / time.Duration(len(sel.Strategies))
	}
	timeoutMs := float64(perStrategy.Milliseconds())

	var lastErr error
	for _, strat := range sel.Strategies {
		loc := locatorFor(page, strat)

		if err := loc.WaitFor(playwright.LocatorWaitForOptions{
			State:   playwright.WaitForSelectorStateVisible,
			Timeout: playwright.Float(timeoutMs),
		}); err != nil {
			lastErr = err
			continue
		}

		return loc, nil
	}

	return nil, lastErr
}

func locatorFor(page playwright.Page, strat Locator) playwright.Locator {
	switch {
	case strat.CSS != "":
		return page.Locator(strat.CSS)
	case strat.Role.Role != "":
		return page.GetByRole(strat.Role.Role, playwright.PageGetByRoleOptions{Name: strat.Role.Name})
	default:
		return page.GetByText(strat.Text)
	}
}
