package safe

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	xerrors "SafeGuard-Agent/internal/errors"
)

// NativeDecimals 是原生代币的固定精度。
const NativeDecimals = 18

// maxIntegerDigits 限制金额整数部分的位数，远超任何原生代币的总量。
const maxIntegerDigits = 30

// maxAmountLength 限制原始输入长度，超长数字在解析前即被拒绝。
const maxAmountLength = 64

// ParseAmount 解析用户输入的十进制金额，拒绝非正数、超过 18 位小数以及超大数值。
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) > maxAmountLength {
		return decimal.Decimal{}, xerrors.New(xerrors.CodeInvalidArgument, "金额过长")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "金额格式无效")
	}
	if amount.Sign() <= 0 {
		return decimal.Decimal{}, xerrors.New(xerrors.CodeInvalidArgument, "金额必须大于 0")
	}
	if _, err := ToWei(amount); err != nil {
		return decimal.Decimal{}, err
	}
	return amount, nil
}

// checkScale 必须在任何比较或缩放之前调用，只读取指数与系数位数。
func checkScale(amount decimal.Decimal) error {
	exp := int64(amount.Exponent())
	if exp < -NativeDecimals {
		return xerrors.New(xerrors.CodeInvalidArgument, "金额小数位不能超过 18 位")
	}
	if int64(amount.NumDigits())+exp > maxIntegerDigits {
		return xerrors.New(xerrors.CodeInvalidArgument, "金额超出允许范围")
	}
	return nil
}

// ToWei 将人类可读金额转换为最小单位。
func ToWei(amount decimal.Decimal) (*big.Int, error) {
	if err := checkScale(amount); err != nil {
		return nil, err
	}
	wei := amount.Shift(NativeDecimals).BigInt()
	if wei.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "金额换算后必须大于 0 wei")
	}
	return wei, nil
}

// FromWei 将最小单位转换为人类可读金额。
func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -NativeDecimals)
}
