package driver

import (
	"errors"
	"fmt"
	"testing"
)

func TestAsProductAddError_MatchesAndFillsTarget(t *testing.T) {
	err := newProductAddError("add_product", "33445", "", errors.New("товар недоступен"))

	var target *ProductAddError
	if ok := asProductAddError(err, &target); !ok {
		t.Fatal("asProductAddError() = false, want true for a *ProductAddError")
	}
	if target == nil {
		t.Fatal("target not filled")
	}
	if target.ProductCode != "33445" {
		t.Fatalf("ProductCode = %q, want %q", target.ProductCode, "33445")
	}
}

func TestAsProductAddError_RejectsOtherStepErrors(t *testing.T) {
	err := newCartError("open_cart", "", errors.New("корзина не открылась"))

	var target *ProductAddError
	if ok := asProductAddError(err, &target); ok {
		t.Fatal("asProductAddError() = true, want false for a *CartError")
	}
	if target != nil {
		t.Fatal("target should stay nil when the error doesn't match")
	}
}

func TestAsProductAddError_RejectsPlainError(t *testing.T) {
	var target *ProductAddError
	if ok := asProductAddError(fmt.Errorf("plain"), &target); ok {
		t.Fatal("asProductAddError() = true, want false for a plain error")
	}
}

func TestStepError_ErrorIncludesScreenshotPathWhenPresent(t *testing.T) {
	withShot := newLoginError("login", "/tmp/shot.png", errors.New("timeout"))
	if got := withShot.Error(); got != "login: timeout (screenshot: /tmp/shot.png)" {
		t.Fatalf("Error() = %q", got)
	}

	withoutShot := newLoginError("login", "", errors.New("timeout"))
	if got := withoutShot.Error(); got != "login: timeout" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestStepError_UnwrapReturnsUnderlyingError(t *testing.T) {
	underlying := errors.New("page crashed")
	navErr := newNavigationError("go_to_cart", "", underlying)

	if !errors.Is(navErr, underlying) {
		t.Fatal("errors.Is should find the underlying error through Unwrap")
	}
}
