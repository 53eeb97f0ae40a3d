package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"modelserve/ml"
)

// Encoding 上传文件的字符集
type Encoding string

const (
	EncodingUTF8 Encoding = "utf-8"
	EncodingGBK  Encoding = "gbk"
)

// ParseEncoding 解析配置中的字符集名称
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "utf-8", "utf8":
		return EncodingUTF8, nil
	case "gbk":
		return EncodingGBK, nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", s)
	}
}

// isMissing 判断单元格是否为缺失值
func isMissing(cell string) bool {
	switch strings.TrimSpace(cell) {
	case "", "NA", "N/A", "n/a", "#N/A", "#NA", "NaN", "nan", "-NaN", "-nan", "NULL", "null", "None", "<NA>":
		return true
	}
	return false
}

// ReadCSV 读取带表头的CSV并推断列类型
//
// 全部为整数的列为 int64，含缺失值的整数列与全部为数字的列为 float64，
// 其余为 object。
func ReadCSV(r io.Reader, enc Encoding) (*ml.Table, error) {
	reader := csv.NewReader(decode(r, enc))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: no columns to parse", ml.ErrInvalidDataset)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ml.ErrInvalidDataset, err)
	}
	names := columnNames(header)

	cells := make([][]string, len(names))
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ml.ErrInvalidDataset, err)
		}
		line++
		if len(record) > len(names) {
			return nil, fmt.Errorf("%w: line %d has %d fields, expected %d", ml.ErrInvalidDataset, line, len(record), len(names))
		}
		for j := range names {
			cell := ""
			if j < len(record) {
				cell = record[j]
			}
			cells[j] = append(cells[j], cell)
		}
	}

	columns := make([]*ml.Column, len(names))
	for j, name := range names {
		columns[j] = inferColumn(name, cells[j])
	}
	return ml.NewTable(columns...)
}

func decode(r io.Reader, enc Encoding) io.Reader {
	if enc == EncodingGBK {
		return transform.NewReader(r, simplifiedchinese.GBK.NewDecoder())
	}
	return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}

// columnNames 补全空表头并为重复表头追加序号
func columnNames(header []string) []string {
	names := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		if n, ok := seen[name]; ok {
			seen[name] = n + 1
			name = fmt.Sprintf("%s.%d", name, n+1)
		}
		seen[name] = 0
		names[i] = name
	}
	return names
}

func inferColumn(name string, cells []string) *ml.Column {
	allInt, allFloat, anyMissing, anyPresent := true, true, false, false
	for _, c := range cells {
		if isMissing(c) {
			anyMissing = true
			continue
		}
		anyPresent = true
		c = strings.TrimSpace(c)
		if allInt {
			if _, err := strconv.ParseInt(c, 10, 64); err != nil {
				allInt = false
			}
		}
		if !allInt && allFloat {
			if _, err := strconv.ParseFloat(c, 64); err != nil {
				allFloat = false
				break
			}
		}
	}

	if !anyPresent {
		values := make([]float64, len(cells))
		for i := range values {
			values[i] = math.NaN()
		}
		return ml.NewNumericColumn(name, ml.KindFloat, values)
	}
	if allInt || allFloat {
		kind := ml.KindFloat
		if allInt && !anyMissing {
			kind = ml.KindInteger
		}
		values := make([]float64, len(cells))
		for i, c := range cells {
			if isMissing(c) {
				values[i] = math.NaN()
				continue
			}
			values[i], _ = strconv.ParseFloat(strings.TrimSpace(c), 64)
		}
		return ml.NewNumericColumn(name, kind, values)
	}

	values := make([]string, len(cells))
	for i, c := range cells {
		if !isMissing(c) {
			values[i] = c
		}
	}
	return ml.NewTextColumn(name, values)
}

// RecordsToTable 将JSON记录列表转换为表，列按名称排序
//
// 记录中缺少的键视为缺失值。全部为数字的列为数值列，否则转为文本。
func RecordsToTable(records []map[string]interface{}) (*ml.Table, error) {
	nameSet := make(map[string]struct{})
	for _, record := range records {
		for k := range record {
			nameSet[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(nameSet))
	for k := range nameSet {
		names = append(names, k)
	}
	sort.Strings(names)

	columns := make([]*ml.Column, 0, len(names))
	for _, name := range names {
		values := make([]interface{}, len(records))
		for i, record := range records {
			values[i] = record[name]
		}
		col, err := valuesToColumn(name, values)
		if err != nil {
			return nil, err
		}
		columns = append(columns, col)
	}
	return ml.NewTable(columns...)
}

func valuesToColumn(name string, values []interface{}) (*ml.Column, error) {
	numeric, integral, anyMissing := true, true, false
	for _, v := range values {
		switch x := v.(type) {
		case nil:
			anyMissing = true
		case float64:
			if x != math.Trunc(x) {
				integral = false
			}
		case int, int64:
		default:
			numeric = false
		}
	}

	if numeric {
		kind := ml.KindFloat
		if integral && !anyMissing {
			kind = ml.KindInteger
		}
		out := make([]float64, len(values))
		for i, v := range values {
			switch x := v.(type) {
			case nil:
				out[i] = math.NaN()
			case float64:
				out[i] = x
			case int:
				out[i] = float64(x)
			case int64:
				out[i] = float64(x)
			}
		}
		return ml.NewNumericColumn(name, kind, out), nil
	}

	out := make([]string, len(values))
	for i, v := range values {
		switch x := v.(type) {
		case nil:
		case string:
			out[i] = x
		case float64:
			out[i] = strconv.FormatFloat(x, 'f', -1, 64)
		case int:
			out[i] = strconv.Itoa(x)
		case int64:
			out[i] = strconv.FormatInt(x, 10)
		case bool:
			out[i] = strconv.FormatBool(x)
		default:
			return nil, fmt.Errorf("%w: column %q has unsupported value %v", ml.ErrInvalidDataset, name, v)
		}
	}
	return ml.NewTextColumn(name, out), nil
}
