package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/lqvu/vending-machine/internal/core/domain"
	"github.com/lqvu/vending-machine/internal/core/service"
)

type HTTPHandler struct {
	svc *service.VendingService
}

func NewHTTPHandler(svc *service.VendingService) *HTTPHandler {
	return &HTTPHandler{svc: svc}
}

type payloadValidator struct {
	validate *validator.Validate
}

func (pv *payloadValidator) Validate(i interface{}) error {
	if err := pv.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return nil
}

// RegisterRoutes wires the vending API onto e and installs payload
// validation.
func (h *HTTPHandler) RegisterRoutes(e *echo.Echo) {
	e.Validator = &payloadValidator{validate: validator.New()}

	e.GET("/health", h.healthCheck)

	e.POST("/slots", h.createSlot)
	e.GET("/slots", h.listSlots)
	e.GET("/slots/full-view", h.fullView)
	e.GET("/slots/:id", h.getSlot)
	e.POST("/slots/:id/items", h.addItem)
	e.POST("/slots/:id/items/bulk", h.bulkAddItems)

	e.GET("/items/:id", h.getItem)
	e.PATCH("/items/:id/price", h.updateItemPrice)

	e.POST("/purchase", h.purchase)
	e.GET("/purchase/change-breakdown", h.changeBreakdown)
}

type createSlotPayload struct {
	Code     string `json:"code" validate:"required"`
	Capacity int    `json:"capacity" validate:"required,gt=0"`
}

type addItemPayload struct {
	Name     string `json:"name" validate:"required"`
	Price    int    `json:"price" validate:"required,gt=0"`
	Quantity int    `json:"quantity" validate:"required,gt=0"`
}

type bulkItemEntry struct {
	Name     string `json:"name" validate:"required"`
	Price    int    `json:"price" validate:"required,gt=0"`
	Quantity int    `json:"quantity"`
}

type bulkAddPayload struct {
	Items []bulkItemEntry `json:"items" validate:"required,min=1,dive"`
}

type updatePricePayload struct {
	Price int `json:"price" validate:"required,gt=0"`
}

type purchasePayload struct {
	RequestID    string `json:"request_id"`
	ItemID       int64  `json:"item_id" validate:"required"`
	CashInserted int    `json:"cash_inserted" validate:"required,gt=0"`
}

type slotResponse struct {
	ID               int64  `json:"id"`
	Code             string `json:"code"`
	Capacity         int    `json:"capacity"`
	CurrentItemCount int    `json:"current_item_count"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

type itemResponse struct {
	ID        int64  `json:"id"`
	SlotID    int64  `json:"slot_id"`
	Name      string `json:"name"`
	Price     int    `json:"price"`
	Quantity  int    `json:"quantity"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type slotFullResponse struct {
	slotResponse
	Items []itemResponse `json:"items"`
}

type purchaseResponse struct {
	ItemID            int64       `json:"item_id"`
	Item              string      `json:"item"`
	Price             int         `json:"price"`
	CashInserted      int         `json:"cash_inserted"`
	ChangeReturned    int         `json:"change_returned"`
	Denominations     map[int]int `json:"denominations"`
	RemainingQuantity int         `json:"remaining_quantity"`
}

func (h *HTTPHandler) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) createSlot(c echo.Context) error {
	var payload createSlotPayload
	if err := bindAndValidate(c, &payload); err != nil {
		return err
	}
	slot, err := h.svc.CreateSlot(c.Request().Context(), payload.Code, payload.Capacity)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusCreated, toSlotResponse(slot))
}

func (h *HTTPHandler) listSlots(c echo.Context) error {
	slots, err := h.svc.ListSlots(c.Request().Context())
	if err != nil {
		return domainError(c, err)
	}
	out := make([]slotResponse, 0, len(slots))
	for i := range slots {
		out = append(out, toSlotResponse(&slots[i]))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *HTTPHandler) fullView(c echo.Context) error {
	slots, err := h.svc.ListSlotsWithItems(c.Request().Context())
	if err != nil {
		return domainError(c, err)
	}
	out := make([]slotFullResponse, 0, len(slots))
	for i := range slots {
		full := slotFullResponse{
			slotResponse: toSlotResponse(&slots[i].Slot),
			Items:        make([]itemResponse, 0, len(slots[i].Items)),
		}
		for j := range slots[i].Items {
			full.Items = append(full.Items, toItemResponse(&slots[i].Items[j]))
		}
		out = append(out, full)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *HTTPHandler) getSlot(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	slot, err := h.svc.GetSlot(c.Request().Context(), id)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, toSlotResponse(slot))
}

func (h *HTTPHandler) addItem(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var payload addItemPayload
	if err := bindAndValidate(c, &payload); err != nil {
		return err
	}
	item, err := h.svc.AddItem(c.Request().Context(), id, payload.Name, payload.Price, payload.Quantity)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusCreated, toItemResponse(item))
}

func (h *HTTPHandler) bulkAddItems(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var payload bulkAddPayload
	if err := bindAndValidate(c, &payload); err != nil {
		return err
	}
	entries := make([]domain.ItemEntry, 0, len(payload.Items))
	for _, e := range payload.Items {
		entries = append(entries, domain.ItemEntry{Name: e.Name, Price: e.Price, Quantity: e.Quantity})
	}
	added, err := h.svc.BulkAddItems(c.Request().Context(), id, entries)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"added_count": added})
}

func (h *HTTPHandler) getItem(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	item, err := h.svc.GetItem(c.Request().Context(), id)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, toItemResponse(item))
}

func (h *HTTPHandler) updateItemPrice(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var payload updatePricePayload
	if err := bindAndValidate(c, &payload); err != nil {
		return err
	}
	item, err := h.svc.UpdateItemPrice(c.Request().Context(), id, payload.Price)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, toItemResponse(item))
}

func (h *HTTPHandler) purchase(c echo.Context) error {
	var payload purchasePayload
	if err := bindAndValidate(c, &payload); err != nil {
		return err
	}
	result, err := h.svc.Purchase(c.Request().Context(), payload.RequestID, payload.ItemID, payload.CashInserted)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, purchaseResponse{
		ItemID:            result.ItemID,
		Item:              result.ItemName,
		Price:             result.Price,
		CashInserted:      result.CashInserted,
		ChangeReturned:    result.ChangeDue,
		Denominations:     result.ChangeBreakdown,
		RemainingQuantity: result.RemainingQuantity,
	})
}

func (h *HTTPHandler) changeBreakdown(c echo.Context) error {
	amount, err := strconv.Atoi(c.QueryParam("change"))
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "change must be an integer"})
	}
	breakdown, err := h.svc.ChangeBreakdown(amount)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"change":        amount,
		"denominations": breakdown,
	})
}

func bindAndValidate(c echo.Context, payload interface{}) error {
	if err := c.Bind(payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return c.Validate(payload)
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func domainError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrSlotNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Slot not found"})
	case errors.Is(err, domain.ErrItemNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Item not found"})
	case errors.Is(err, domain.ErrOutOfStock):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Item out of stock"})
	case errors.Is(err, domain.ErrInsufficientCash):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Insufficient cash"})
	case errors.Is(err, domain.ErrCapacityExceeded):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Slot capacity exceeded"})
	case errors.Is(err, domain.ErrChangeNotRepresentable):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Cannot make change for this purchase"})
	case errors.Is(err, domain.ErrSlotExists):
		return c.JSON(http.StatusConflict, map[string]string{"error": "Slot code already exists"})
	case errors.Is(err, service.ErrDuplicateRequest):
		return c.JSON(http.StatusConflict, map[string]string{"error": "Duplicate request"})
	case errors.Is(err, domain.ErrInvalidInput):
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	default:
		zap.L().Error("request failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func toSlotResponse(s *domain.Slot) slotResponse {
	return slotResponse{
		ID:               s.ID,
		Code:             s.Code,
		Capacity:         s.Capacity,
		CurrentItemCount: s.CurrentItemCount,
		CreatedAt:        s.CreatedAt.Format(timeLayout),
		UpdatedAt:        s.UpdatedAt.Format(timeLayout),
	}
}

func toItemResponse(it *domain.Item) itemResponse {
	return itemResponse{
		ID:        it.ID,
		SlotID:    it.SlotID,
		Name:      it.Name,
		Price:     it.Price,
		Quantity:  it.Quantity,
		CreatedAt: it.CreatedAt.Format(timeLayout),
		UpdatedAt: it.UpdatedAt.Format(timeLayout),
	}
}

const timeLayout = "2006-01-02T15:04:05.000000Z07:00"
