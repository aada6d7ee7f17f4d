package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/ordersync/internal/core/domain"
)

var (
	ordersStatus string
	ordersPage   int
	ordersLimit  int
	ordersDays   int
	ordersJSON   bool
)

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "Query synchronised orders",
	Long:  `Commands for reading orders from the local store.`,
}

var ordersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored orders, newest first",
	Args:  cobra.NoArgs,
	RunE:  runOrdersList,
}

var ordersGetCmd = &cobra.Command{
	Use:   "get [order-id]",
	Short: "Show one stored order by its CRM ID",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrdersGet,
}

var ordersMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Summarise revenue and order counts",
	Args:  cobra.NoArgs,
	RunE:  runOrdersMetrics,
}

func init() {
	ordersListCmd.Flags().StringVar(&ordersStatus, "status", "", "filter by order status")
	ordersListCmd.Flags().IntVar(&ordersPage, "page", 1, "page number")
	ordersListCmd.Flags().IntVarP(&ordersLimit, "limit", "n", domain.DefaultOrderPageLimit, "orders per page")
	ordersMetricsCmd.Flags().IntVar(&ordersDays, "days", 30, "number of days to summarise")

	ordersCmd.PersistentFlags().BoolVar(&ordersJSON, "json", false, "output as JSON")
	ordersCmd.AddCommand(ordersListCmd, ordersGetCmd, ordersMetricsCmd)
	rootCmd.AddCommand(ordersCmd)
}

func runOrdersList(cmd *cobra.Command, _ []string) error {
	if orderService == nil {
		return errors.New("order service not configured")
	}

	filter := domain.OrderFilter{
		Status: domain.OrderStatus(ordersStatus),
		Page:   ordersPage,
		Limit:  ordersLimit,
	}
	page, _, err := orderService.List(cmd.Context(), "", filter)
	if err != nil {
		return fmt.Errorf("failed to list orders: %w", err)
	}
	if ordersJSON {
		return printJSON(cmd, page)
	}

	if len(page.Orders) == 0 {
		cmd.Println("No orders found.")
		return nil
	}
	for i := range page.Orders {
		o := &page.Orders[i]
		cmd.Printf("  %-12s %s  %-10s %10s  %s\n",
			o.RemoteID, o.OrderTime.Format(time.DateOnly), o.Status, o.Total, customerLabel(o))
	}
	cmd.Printf("\nPage %d of %d (%d orders)\n", page.Page, page.Pages, page.Total)
	return nil
}

func runOrdersGet(cmd *cobra.Command, args []string) error {
	if orderService == nil {
		return errors.New("order service not configured")
	}

	order, _, err := orderService.Get(cmd.Context(), "", args[0])
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("order %s not found", args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to get order: %w", err)
	}
	if ordersJSON {
		return printJSON(cmd, order)
	}

	cmd.Printf("Order:     %s\n", order.RemoteID)
	if order.Title != "" {
		cmd.Printf("Title:     %s\n", order.Title)
	}
	cmd.Printf("Customer:  %s\n", customerLabel(order))
	cmd.Printf("Placed:    %s\n", order.OrderTime.Format(time.RFC3339))
	cmd.Printf("Status:    %s (payment %s)\n", order.Status, order.PaymentStatus)
	cmd.Printf("Total:     %s %s\n", order.Total, order.Currency)
	if order.TrackingNumber != "" {
		cmd.Printf("Tracking:  %s\n", order.TrackingNumber)
	}
	cmd.Println("Items:")
	for _, item := range order.Items {
		cmd.Printf("  %3d x %-30s %10s\n", item.Quantity, item.ProductName, item.UnitPrice)
	}
	return nil
}

func runOrdersMetrics(cmd *cobra.Command, _ []string) error {
	if orderService == nil {
		return errors.New("order service not configured")
	}

	m, _, err := orderService.Metrics(cmd.Context(), "", ordersDays)
	if err != nil {
		return fmt.Errorf("failed to compute metrics: %w", err)
	}
	if ordersJSON {
		return printJSON(cmd, m)
	}

	cmd.Printf("Since %s: %d orders, revenue %s, average %s\n",
		m.Since.Format(time.DateOnly), m.OrderCount, m.TotalRevenue, m.AvgOrderValue)
	if len(m.StatusBreakdown) > 0 {
		cmd.Println("By status:")
		for _, s := range m.StatusBreakdown {
			cmd.Printf("  %-12s %5d %12s\n", s.Status, s.Count, s.Revenue)
		}
	}
	if len(m.TopProducts) > 0 {
		cmd.Println("Top products:")
		for _, p := range m.TopProducts {
			cmd.Printf("  %-30s %5d %12s\n", p.ProductName, p.OrderCount, p.Revenue)
		}
	}
	return nil
}

func customerLabel(o *domain.Order) string {
	switch {
	case o.CustomerName != "" && o.CustomerEmail != "":
		return fmt.Sprintf("%s <%s>", o.CustomerName, o.CustomerEmail)
	case o.CustomerName != "":
		return o.CustomerName
	case o.CustomerEmail != "":
		return o.CustomerEmail
	default:
		return o.CustomerID
	}
}
