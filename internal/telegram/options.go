package telegram

import (
	"fmt"
	"strconv"
	"strings"

	"go_relay/internal/relay/models"
)

// deliveryOptions /set 支持的投递选项
var deliveryOptions = []string{"sync_edit", "sync_delete", "auto_delete", "silent", "pin", "link_preview"}

// applyDeliveryOption 解析 "/set <id> <option> <value>" 中的选项并写入 d
func applyDeliveryOption(d *models.DeliverySettings, option, value string) error {
	if option == "auto_delete" {
		if isOff(value) {
			d.AutoDelete = false
			d.AutoDeleteSeconds = 0
			return nil
		}
		seconds, err := strconv.Atoi(value)
		if err != nil || seconds <= 0 {
			return fmt.Errorf("auto_delete 需要秒数或 off")
		}
		d.AutoDelete = true
		d.AutoDeleteSeconds = seconds
		return nil
	}

	on, err := parseSwitch(value)
	if err != nil {
		return err
	}
	switch option {
	case "sync_edit":
		d.SyncEdit = on
	case "sync_delete":
		d.SyncDelete = on
	case "silent":
		d.Silent = on
	case "pin":
		d.Pin = on
	case "link_preview":
		d.DisableLinkPreview = !on
	default:
		return fmt.Errorf("未知选项 %s，可用: %s", option, strings.Join(deliveryOptions, ", "))
	}
	return nil
}

func parseSwitch(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("无效的取值 %s，请使用 on/off", value)
}

func isOff(value string) bool {
	on, err := parseSwitch(value)
	return err == nil && !on
}
