package matemap

const (
	// 数字类型
	TYPE_BIT       = iota + 1 // bit
	TYPE_TINYINT              // tinyint
	TYPE_SMALLINT             // smallint
	TYPE_MEDIUMINT            // mediumint
	TYPE_INT                  // int
	TYPE_BIGINT               // bigint
	TYPE_DECIMAL              // decimal
	TYPE_FLOAT                // float
	TYPE_DOUBLE               // double

	// 字符串类型
	TYPE_CHAR       // char
	TYPE_VARCHAR    // varchar
	TYPE_BINARY     // binary
	TYPE_VARBINARY  // varbinary
	TYPE_ENUM       // enum
	TYPE_SET        // set
	TYPE_TINYBLOB   // tinyblob
	TYPE_BLOB       // blob
	TYPE_MEDIUMBLOB // mediumblob
	TYPE_LONGBLOB   // longblob
	TYPE_TINYTEXT   // tinytext
	TYPE_TEXT       // text
	TYPE_MEDIUMTEXT // mediumtext
	TYPE_LONGTEXT   // longtext

	// 日期类型
	TYPE_DATE      // date
	TYPE_TIME      // time
	TYPE_DATETIME  // datetime
	TYPE_TIMESTAMP // timestamp
	TYPE_YEAR      // year

	// json 类型
	TYPE_JSON // json

	// 地理位置类型
	TYPE_GEOMETRY           // geometry
	TYPE_POINT              // point
	TYPE_LINESTRING         // linestring
	TYPE_POLYGON            // polygon
	TYPE_GEOMETRYCOLLECTION // geometrycollection
	TYPE_MULTIPOINT         // multipoint
	TYPE_MULTILINESTRING    // multilinestring
	TYPE_MULTIPOLYGON       // multipolygon
)

// information_schema.columns.data_type -> 类型
var dataTypeMap = map[string]int{
	"bit":                TYPE_BIT,
	"tinyint":            TYPE_TINYINT,
	"smallint":           TYPE_SMALLINT,
	"mediumint":          TYPE_MEDIUMINT,
	"int":                TYPE_INT,
	"integer":            TYPE_INT,
	"bigint":             TYPE_BIGINT,
	"decimal":            TYPE_DECIMAL,
	"float":              TYPE_FLOAT,
	"double":             TYPE_DOUBLE,
	"char":               TYPE_CHAR,
	"varchar":            TYPE_VARCHAR,
	"binary":             TYPE_BINARY,
	"varbinary":          TYPE_VARBINARY,
	"enum":               TYPE_ENUM,
	"set":                TYPE_SET,
	"tinyblob":           TYPE_TINYBLOB,
	"blob":               TYPE_BLOB,
	"mediumblob":         TYPE_MEDIUMBLOB,
	"longblob":           TYPE_LONGBLOB,
	"tinytext":           TYPE_TINYTEXT,
	"text":               TYPE_TEXT,
	"mediumtext":         TYPE_MEDIUMTEXT,
	"longtext":           TYPE_LONGTEXT,
	"date":               TYPE_DATE,
	"time":               TYPE_TIME,
	"datetime":           TYPE_DATETIME,
	"timestamp":          TYPE_TIMESTAMP,
	"year":               TYPE_YEAR,
	"json":               TYPE_JSON,
	"geometry":           TYPE_GEOMETRY,
	"point":              TYPE_POINT,
	"linestring":         TYPE_LINESTRING,
	"polygon":            TYPE_POLYGON,
	"geometrycollection": TYPE_GEOMETRYCOLLECTION,
	"multipoint":         TYPE_MULTIPOINT,
	"multilinestring":    TYPE_MULTILINESTRING,
	"multipolygon":       TYPE_MULTIPOLYGON,
}

// 获取类型, 不认识的类型返回 0
func GetType(_dataType string) int {
	return dataTypeMap[_dataType]
}
