package monitor

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"utility-balance-alerts/internal/alerting"
	"utility-balance-alerts/internal/model"
)

const viewAction = "view_accounts"

func formatMoney(value decimal.Decimal) string {
	return value.StringFixed(2)
}

func label(name, number string) string {
	if name == "" || name == number {
		return number
	}
	return fmt.Sprintf("%s (%s)", name, number)
}

func lowBalanceMessage(name, number string, balance, threshold decimal.Decimal) string {
	return fmt.Sprintf("Account %s balance is %s, below the threshold of %s.",
		label(name, number), formatMoney(balance), formatMoney(threshold))
}

func unavailableMessage(account model.Account) string {
	return fmt.Sprintf("Balance data for account %s is unavailable.", label(account.Name, account.Number))
}

// compose 生成某一类型告警的标题、正文和展示参数；多个账户合并成一条消息。
func compose(group alertGroup) (string, string, alerting.Options) {
	opts := alerting.Options{
		Tag:                string(group.typ),
		RequireInteraction: group.typ == model.LowBalance,
		Actions:            []alerting.Action{{ID: viewAction, Title: "View accounts"}},
		Data:               map[string]string{"type": string(group.typ)},
	}

	if len(group.alerts) == 1 {
		alert := group.alerts[0]
		opts.Data["accountNo"] = alert.AccountNo
		if alert.Balance != nil {
			opts.Data["balance"] = formatMoney(*alert.Balance)
		}
		if alert.Threshold != nil {
			opts.Data["threshold"] = formatMoney(*alert.Threshold)
		}
		return group.typ.Title(), alert.Message, opts
	}

	numbers := make([]string, 0, len(group.alerts))
	lines := make([]string, 0, len(group.alerts))
	for _, alert := range group.alerts {
		numbers = append(numbers, alert.AccountNo)
		line := label(alert.AccountName, alert.AccountNo)
		if alert.Balance != nil {
			line += ": " + formatMoney(*alert.Balance)
		}
		lines = append(lines, "- "+line)
	}
	opts.Data["accountNos"] = strings.Join(numbers, ",")

	var header string
	switch group.typ {
	case model.LowBalance:
		threshold := ""
		if t := group.alerts[0].Threshold; t != nil {
			threshold = formatMoney(*t)
			opts.Data["threshold"] = threshold
		}
		header = fmt.Sprintf("%d accounts are below the threshold of %s:", len(group.alerts), threshold)
	case model.DataUnavailable:
		header = fmt.Sprintf("Balance data is unavailable for %d accounts:", len(group.alerts))
	default:
		header = fmt.Sprintf("%d accounts need attention:", len(group.alerts))
	}
	return group.typ.Title(), header + "\n" + strings.Join(lines, "\n"), opts
}
