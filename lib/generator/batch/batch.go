// Package batchgen предоставляет функции для генерации случайных, но
// структурно-валидных пакетов заказов. Используется сервисом-сидером
// cmd/seed, который эмулирует загрузку оператором реального файла с
// заказами. Для создания фейковых данных используется gofakeit.
package batchgen

import (
	"fmt"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/natura-rpa/gsp-dispatch/internal/models"
)

var productCodes = []string{
	"33445", "55221", "10987", "77654", "20456", "88321", "41209", "66778",
}

// GenerateOrders создает count заказов со случайными, но уникальными кодами
// консультор и от 1 до 5 товарных позиций каждый.
func GenerateOrders(count int) []models.NewOrderInput {
	orders := make([]models.NewOrderInput, count)
	seen := make(map[string]bool, count)
	for i := 0; i < count; i++ {
		order := generateOrder(i)
		for seen[order.ConsultoraCode] {
			order.ConsultoraCode = fmt.Sprintf("%07d", gofakeit.Number(1000000, 9999999))
		}
		seen[order.ConsultoraCode] = true
		orders[i] = order
	}
	return orders
}

func generateOrder(seq int) models.NewOrderInput {
	productsCount := gofakeit.Number(1, 5)
	products := make([]models.NewProductInput, productsCount)
	for i := 0; i < productsCount; i++ {
		products[i] = models.NewProductInput{
			ProductCode: gofakeit.RandomString(productCodes),
			Quantity:    gofakeit.Number(1, 10),
		}
	}

	return models.NewOrderInput{
		ConsultoraCode: fmt.Sprintf("%07d", gofakeit.Number(1000000, 9999999)),
		ConsultoraName: gofakeit.Name(),
		Products:       products,
	}
}
